package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const verifyLockTTL = 5 * time.Minute

// ProjectionVerifier checks and repairs the stock projection.
type ProjectionVerifier interface {
	Verify(ctx context.Context) ([]ledger.Drift, error)
	Rebuild(ctx context.Context, itemCode string) (ledger.Drift, error)
}

// Locker serialises runs across worker replicas.
type Locker interface {
	Run(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// VerifyProjectionJob replays every item's ledger and reports projection drift.
type VerifyProjectionJob struct {
	Ledger  ProjectionVerifier
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewVerifyProjectionJob initialises the handler.
func NewVerifyProjectionJob(verifier ProjectionVerifier, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *VerifyProjectionJob {
	return &VerifyProjectionJob{Ledger: verifier, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes one verification run. A run already in progress elsewhere is
// not an error.
func (j *VerifyProjectionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("verify projection: handler not configured")
	}
	var payload VerifyProjectionPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("verify projection payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskVerifyProjection)
	logger := loggerOr(j.Logger).With(slog.String("job", TaskVerifyProjection), slog.Bool("repair", payload.Repair))

	run := func(ctx context.Context) error { return j.run(ctx, logger, payload.Repair) }
	var err error
	if j.Locker != nil {
		err = j.Locker.Run(ctx, shared.ProjectionVerifyLock, verifyLockTTL, run)
	} else {
		err = run(ctx)
	}
	if errors.Is(err, lock.ErrBusy) {
		logger.Info("verification already running elsewhere, skipping")
		return tracker.End(nil)
	}
	return tracker.End(err)
}

func (j *VerifyProjectionJob) run(ctx context.Context, logger *slog.Logger, repair bool) error {
	start := time.Now()
	drifts, err := j.Ledger.Verify(ctx)
	if err != nil {
		logger.Error("verification failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetDrift(len(drifts))
	for _, d := range drifts {
		logger.Warn("projection drift detected",
			slog.String("item_code", d.ItemCode),
			slog.Int("projected", d.Projected),
			slog.Int("replayed", d.Replayed),
			slog.Int("movements", d.Movements),
		)
	}

	repaired := 0
	if repair {
		for _, d := range drifts {
			fixed, err := j.Ledger.Rebuild(ctx, d.ItemCode)
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", d.ItemCode, err)
			}
			if fixed.Projected != fixed.Replayed {
				repaired++
			}
		}
		j.Metrics.AddRepaired(repaired)
		if repaired == len(drifts) {
			j.Metrics.SetDrift(0)
		}
	}

	logger.Info("completed projection verification",
		slog.Int("drifted", len(drifts)),
		slog.Int("repaired", repaired),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

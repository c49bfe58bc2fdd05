package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	WithSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ItemExists(ctx context.Context, itemCode string) (bool, error)
	GetLevel(ctx context.Context, itemCode string) (StockLevel, error)
	ListLevels(ctx context.Context) ([]StockLevel, error)
	ListLowStock(ctx context.Context) ([]StockLevel, error)
	ListMovements(ctx context.Context, itemCode string, limit int) ([]Movement, error)
}

// Observer receives movement notifications for metrics.
type Observer interface {
	MovementRecorded(kind string)
	Oversold(policy string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Policy   OversellPolicy
	Observer Observer
	Logger   *slog.Logger
}

// Service records stock movements and maintains the inventory projection.
type Service struct {
	repo     RepositoryPort
	policy   OversellPolicy
	observer Observer
	logger   *slog.Logger
	validate *httpx.Validator
}

// NewService builds Service. An empty policy defaults to PolicyReject.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyReject
	}
	return &Service{repo: repo, policy: policy, observer: cfg.Observer, logger: cfg.Logger, validate: httpx.NewValidator()}
}

// Policy reports the configured oversell policy.
func (s *Service) Policy() OversellPolicy {
	return s.policy
}

func (s *Service) check(input RecordInput) (RecordInput, error) {
	input.ItemCode = strings.TrimSpace(input.ItemCode)
	input.Reason = strings.TrimSpace(input.Reason)
	if input.ItemCode == "" {
		return input, httpx.NewError(httpx.ErrValidation, "ledger: item_code is required")
	}
	if !input.Kind.IsValid() {
		return input, ErrInvalidKind
	}
	if err := s.validate.Struct(input); err != nil {
		return input, err
	}
	if (input.Kind == KindAbsolute && input.Quantity < 0) || (input.Kind != KindAbsolute && input.Quantity <= 0) {
		return input, ErrInvalidQuantity
	}
	return input, nil
}

// Record appends one movement and updates the projection in the same transaction.
func (s *Service) Record(ctx context.Context, input RecordInput) (Movement, error) {
	input, err := s.check(input)
	if err != nil {
		return Movement{}, err
	}
	var recorded Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := s.RecordTx(ctx, tx, input)
		if err != nil {
			return err
		}
		recorded = m
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	return recorded, nil
}

// RecordTx appends one movement inside a caller-owned transaction. The projection
// row stays locked until that transaction ends.
func (s *Service) RecordTx(ctx context.Context, tx TxRepository, input RecordInput) (Movement, error) {
	input, err := s.check(input)
	if err != nil {
		return Movement{}, err
	}
	current, err := tx.LockLevel(ctx, input.ItemCode)
	if err != nil {
		return Movement{}, fmt.Errorf("lock %s: %w", input.ItemCode, err)
	}
	if input.Kind == KindOutbound && input.Quantity > current {
		s.oversold(input, current)
	}
	next, err := Apply(current, input.Kind, input.Quantity, s.policy)
	if err != nil {
		return Movement{}, fmt.Errorf("item %s: %w", input.ItemCode, err)
	}
	m, err := tx.InsertMovement(ctx, Movement{
		ItemCode:     input.ItemCode,
		Kind:         input.Kind,
		Quantity:     input.Quantity,
		BalanceAfter: next,
		Reason:       input.Reason,
		RefType:      input.RefType,
		RefID:        input.RefID,
		CreatedBy:    input.CreatedBy,
	})
	if err != nil {
		return Movement{}, err
	}
	if err := tx.SetLevel(ctx, input.ItemCode, next); err != nil {
		return Movement{}, err
	}
	if s.observer != nil {
		s.observer.MovementRecorded(string(input.Kind))
	}
	return m, nil
}

func (s *Service) oversold(input RecordInput, current int) {
	if s.observer != nil {
		s.observer.Oversold(string(s.policy))
	}
	if s.logger != nil {
		s.logger.Warn("outbound exceeds stock on hand",
			slog.String("item_code", input.ItemCode),
			slog.Int("on_hand", current),
			slog.Int("requested", input.Quantity),
			slog.String("policy", string(s.policy)),
			slog.String("reason", input.Reason),
		)
	}
}

// Get returns the projected quantity of one item, 0 when it never moved.
func (s *Service) Get(ctx context.Context, itemCode string) (StockLevel, error) {
	return s.repo.GetLevel(ctx, itemCode)
}

// ListStock returns the projection for all items.
func (s *Service) ListStock(ctx context.Context) ([]StockLevel, error) {
	return s.repo.ListLevels(ctx)
}

// ListLowStock returns items at or below their low-stock threshold, lowest quantity first.
func (s *Service) ListLowStock(ctx context.Context) ([]StockLevel, error) {
	return s.repo.ListLowStock(ctx)
}

// ListForItem returns the newest movements of one item.
func (s *Service) ListForItem(ctx context.Context, itemCode string, limit int) ([]Movement, error) {
	exists, err := s.repo.ItemExists(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownItem
	}
	return s.repo.ListMovements(ctx, itemCode, clampLimit(limit))
}

// ListRecent returns the newest movements across items, or for one item when itemCode is set.
func (s *Service) ListRecent(ctx context.Context, itemCode string, limit int) ([]Movement, error) {
	if itemCode != "" {
		return s.ListForItem(ctx, itemCode, limit)
	}
	return s.repo.ListMovements(ctx, "", clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// Verify replays the ledger of every item from one snapshot and returns the items
// whose projection differs from the replay.
func (s *Service) Verify(ctx context.Context) ([]Drift, error) {
	drifts := []Drift{}
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, tx TxRepository) error {
		levels, err := tx.Levels(ctx)
		if err != nil {
			return err
		}
		for code, projected := range levels {
			movements, err := tx.MovementsForReplay(ctx, code)
			if err != nil {
				return fmt.Errorf("replay %s: %w", code, err)
			}
			if replayed := Replay(movements, s.policy); replayed != projected {
				drifts = append(drifts, Drift{ItemCode: code, Projected: projected, Replayed: replayed, Movements: len(movements)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ItemCode < drifts[j].ItemCode })
	return drifts, nil
}

// Rebuild rewrites one item's projection from its ledger replay.
func (s *Service) Rebuild(ctx context.Context, itemCode string) (Drift, error) {
	var drift Drift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		projected, err := tx.LockLevel(ctx, itemCode)
		if err != nil {
			return err
		}
		movements, err := tx.MovementsForReplay(ctx, itemCode)
		if err != nil {
			return err
		}
		replayed := Replay(movements, s.policy)
		drift = Drift{ItemCode: itemCode, Projected: projected, Replayed: replayed, Movements: len(movements)}
		if replayed == projected {
			return nil
		}
		return tx.SetLevel(ctx, itemCode, replayed)
	})
	return drift, err
}

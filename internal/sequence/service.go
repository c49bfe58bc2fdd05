package sequence

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Current(ctx context.Context, series Series, year int) (int, error)
	Raise(ctx context.Context, series Series, year, floor int) error
}

// Service issues document numbers.
type Service struct {
	repo     RepositoryPort
	now      func() time.Time
	previews singleflight.Group
}

// NewService builds Service. A nil clock uses time.Now.
func NewService(repo RepositoryPort, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// Now returns the service clock; document engines use it to pick the numbering year.
func (s *Service) Now() time.Time {
	return s.now()
}

// Next allocates the next number of series for the year of at inside tx.
func (s *Service) Next(ctx context.Context, tx TxRepository, series Series, at time.Time) (string, error) {
	if !series.IsValid() {
		return "", ErrUnknownSeries
	}
	n, err := tx.Increment(ctx, series, at.Year(), 0)
	if err != nil {
		return "", fmt.Errorf("allocate %s number: %w", series, err)
	}
	return Format(series, at.Year(), n), nil
}

// NextBillNumber allocates and consumes a bill number.
func (s *Service) NextBillNumber(ctx context.Context) (string, error) {
	return s.allocate(ctx, Bill)
}

// NextPurchaseNumber allocates and consumes a purchase number.
func (s *Service) NextPurchaseNumber(ctx context.Context) (string, error) {
	return s.allocate(ctx, Purchase)
}

func (s *Service) allocate(ctx context.Context, series Series) (string, error) {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		number, err = s.Next(ctx, tx, series, s.now())
		return err
	})
	return number, err
}

// Preview returns the number the next allocation would issue if nobody else
// allocates first. It never advances the counter.
func (s *Service) Preview(ctx context.Context, series Series) (string, error) {
	if !series.IsValid() {
		return "", ErrUnknownSeries
	}
	year := s.now().Year()
	key := fmt.Sprintf("%s:%d", series, year)
	// Coalesced callers share this read, so it must outlive the first caller.
	detached := context.WithoutCancel(ctx)
	ch := s.previews.DoChan(key, func() (interface{}, error) {
		n, err := s.repo.Current(detached, series, year)
		if err != nil {
			return "", err
		}
		return Format(series, year, n+1), nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Resync lifts the counter of series/year to at least floor, typically the
// highest number already stored in the document tables.
func (s *Service) Resync(ctx context.Context, series Series, year, floor int) error {
	if !series.IsValid() {
		return ErrUnknownSeries
	}
	if floor <= 0 {
		return nil
	}
	return s.repo.Raise(ctx, series, year, floor)
}

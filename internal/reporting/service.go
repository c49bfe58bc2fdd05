// Package reporting serves read-only dashboard figures over documents and the
// stock ledger. Results are cached until the next document write.
package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
)

const topItemsLimit = 5

// Totals aggregates one document kind. Amount excludes cancelled documents.
type Totals struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	Open   int             `json:"open"`
}

// TopItem is an item ranked by billed quantity.
type TopItem struct {
	ItemCode string `json:"item_code"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// Summary is the dashboard payload.
type Summary struct {
	BillCount     int             `json:"bill_count"`
	PurchaseCount int             `json:"purchase_count"`
	Revenue       decimal.Decimal `json:"revenue"`
	Spend         decimal.Decimal `json:"spend"`
	OpenBills     int             `json:"open_bills"`
	LowStockItems int             `json:"low_stock_items"`
	TopItems      []TopItem       `json:"top_items"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// RepositoryPort provides the aggregate queries.
type RepositoryPort interface {
	DocumentTotals(ctx context.Context, kind documents.Kind) (Totals, error)
	TopSellers(ctx context.Context, limit int) ([]TopItem, error)
	LowStockCount(ctx context.Context) (int, error)
}

// CachePort is the versioned cache used for summaries.
type CachePort interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Service computes summaries.
type Service struct {
	repo  RepositoryPort
	cache CachePort
	now   func() time.Time
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache CachePort) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// Summary returns the cached dashboard summary, computing it on a miss.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if s.cache == nil {
		return s.build(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "summary")
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.build(ctx)
	})
	return out, err
}

func (s *Service) build(ctx context.Context) (Summary, error) {
	var (
		bills, purchases Totals
		top              []TopItem
		low              int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		bills, err = s.repo.DocumentTotals(gctx, documents.KindBill)
		return err
	})
	g.Go(func() (err error) {
		purchases, err = s.repo.DocumentTotals(gctx, documents.KindPurchase)
		return err
	})
	g.Go(func() (err error) {
		top, err = s.repo.TopSellers(gctx, topItemsLimit)
		return err
	})
	g.Go(func() (err error) {
		low, err = s.repo.LowStockCount(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	if top == nil {
		top = []TopItem{}
	}
	return Summary{
		BillCount:     bills.Count,
		PurchaseCount: purchases.Count,
		Revenue:       bills.Amount,
		Spend:         purchases.Amount,
		OpenBills:     bills.Open,
		LowStockItems: low,
		TopItems:      top,
		GeneratedAt:   s.now().UTC(),
	}, nil
}

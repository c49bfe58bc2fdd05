package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

type memoryRepo struct {
	mu             sync.Mutex
	items          map[string]Item
	counterparties map[uuid.UUID]Counterparty
	referenced     map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:          make(map[string]Item),
		counterparties: make(map[uuid.UUID]Counterparty),
		referenced:     make(map[string]bool),
	}
}

func (r *memoryRepo) InsertItem(_ context.Context, item Item) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.Code]; ok {
		return Item{}, ErrDuplicateItem
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	r.items[item.Code] = item
	return item, nil
}

func (r *memoryRepo) UpdateItem(_ context.Context, item Item) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.Code]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	r.items[item.Code] = item
	return item, nil
}

func (r *memoryRepo) DeleteItem(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[code]; !ok {
		return ErrItemNotFound
	}
	if r.referenced[code] {
		return ErrItemInUse
	}
	delete(r.items, code)
	return nil
}

func (r *memoryRepo) GetItem(_ context.Context, code string) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[code]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (r *memoryRepo) GetItems(_ context.Context, codes []string) (map[string]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Item)
	for _, code := range codes {
		if item, ok := r.items[code]; ok {
			out[code] = item
		}
	}
	return out, nil
}

func (r *memoryRepo) ListItems(_ context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryRepo) InsertCounterparty(_ context.Context, cp Counterparty) (Counterparty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp.CreatedAt = time.Now()
	r.counterparties[cp.ID] = cp
	return cp, nil
}

func (r *memoryRepo) GetCounterparty(_ context.Context, kind CounterpartyKind, id uuid.UUID) (Counterparty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.counterparties[id]
	if !ok || cp.Kind != kind {
		return Counterparty{}, ErrCounterpartyNotFound
	}
	return cp, nil
}

func (r *memoryRepo) ListCounterparties(_ context.Context, kind CounterpartyKind) ([]Counterparty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Counterparty{}
	for _, cp := range r.counterparties {
		if cp.Kind == kind {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func TestCreateItemNormalisesInput(t *testing.T) {
	svc := NewService(newMemoryRepo())
	item, err := svc.CreateItem(context.Background(), ItemInput{
		Code:              " ITM001 ",
		Name:              "Widget",
		UnitPrice:         decimal.RequireFromString("100.005"),
		TaxRate:           decimal.NewFromInt(10),
		LowStockThreshold: 5,
	})
	require.NoError(t, err)
	require.Equal(t, "ITM001", item.Code)
	require.Equal(t, "pcs", item.Unit)
	require.True(t, item.UnitPrice.Equal(decimal.RequireFromString("100.01")))

	_, err = svc.CreateItem(context.Background(), ItemInput{Code: "ITM001", Name: "Again"})
	require.ErrorIs(t, err, ErrDuplicateItem)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
}

func TestCreateItemValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, ItemInput{Name: "No code"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateItem(ctx, ItemInput{Code: "A", Name: "Neg", UnitPrice: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.CreateItem(ctx, ItemInput{Code: "A", Name: "Tax", TaxRate: decimal.NewFromInt(101)})
	require.ErrorIs(t, err, ErrInvalidTaxRate)

	_, err = svc.CreateItem(ctx, ItemInput{Code: "A", Name: "Threshold", LowStockThreshold: -1})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	_, err := svc.CreateItem(ctx, ItemInput{Code: "ITM001", Name: "Widget"})
	require.NoError(t, err)

	item, err := svc.UpdateItem(ctx, "ITM001", ItemInput{Code: "OTHER", Name: "Widget v2", LowStockThreshold: 3})
	require.NoError(t, err)
	require.Equal(t, "ITM001", item.Code)
	require.Equal(t, "Widget v2", item.Name)

	_, err = svc.UpdateItem(ctx, "MISSING", ItemInput{Name: "x"})
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestDeleteReferencedItemFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	_, err := svc.CreateItem(ctx, ItemInput{Code: "ITM001", Name: "Widget"})
	require.NoError(t, err)
	repo.referenced["ITM001"] = true

	require.ErrorIs(t, svc.DeleteItem(ctx, "ITM001"), ErrItemInUse)
	repo.referenced["ITM001"] = false
	require.NoError(t, svc.DeleteItem(ctx, "ITM001"))
	require.ErrorIs(t, svc.DeleteItem(ctx, "ITM001"), ErrItemNotFound)
}

func TestGetItemsReportsMissingCode(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()
	_, err := svc.CreateItem(ctx, ItemInput{Code: "ITM001", Name: "Widget"})
	require.NoError(t, err)

	items, err := svc.GetItems(ctx, []string{"ITM001"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = svc.GetItems(ctx, []string{"ITM001", "ITM404"})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Contains(t, err.Error(), "ITM404")
}

func TestCounterpartiesAreScopedByKind(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()
	customer, err := svc.CreateCustomer(ctx, CounterpartyInput{Name: "Acme", Email: "ops@acme.test"})
	require.NoError(t, err)
	require.Equal(t, KindCustomer, customer.Kind)

	_, err = svc.GetCounterparty(ctx, KindVendor, customer.ID)
	require.ErrorIs(t, err, ErrCounterpartyNotFound)

	_, err = svc.CreateVendor(ctx, CounterpartyInput{Name: "Supplier", Email: "not-an-email"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestHandlerCreateAndFetchItem(t *testing.T) {
	handler := NewHandler(nil, NewService(newMemoryRepo()))
	router := chi.NewRouter()
	handler.MountRoutes(router)

	body := `{"code":"ITM001","name":"Widget","unit_price":"100.00","tax_rate":"10","low_stock_threshold":5}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/items/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/ITM001", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var item Item
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &item))
	require.Equal(t, "Widget", item.Name)
	require.True(t, item.UnitPrice.Equal(decimal.NewFromInt(100)))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/NOPE", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

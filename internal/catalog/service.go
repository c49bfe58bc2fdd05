package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// RepositoryPort abstracts catalog persistence for the service.
type RepositoryPort interface {
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) (Item, error)
	DeleteItem(ctx context.Context, code string) error
	GetItem(ctx context.Context, code string) (Item, error)
	GetItems(ctx context.Context, codes []string) (map[string]Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	InsertCounterparty(ctx context.Context, cp Counterparty) (Counterparty, error)
	GetCounterparty(ctx context.Context, kind CounterpartyKind, id uuid.UUID) (Counterparty, error)
	ListCounterparties(ctx context.Context, kind CounterpartyKind) ([]Counterparty, error)
}

// Service manages items, customers and vendors.
type Service struct {
	repo     RepositoryPort
	validate *httpx.Validator
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: httpx.NewValidator()}
}

var hundred = decimal.NewFromInt(100)

func (s *Service) normaliseItem(input ItemInput) (Item, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Item{}, err
	}
	if input.UnitPrice.IsNegative() {
		return Item{}, ErrInvalidPrice
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(hundred) {
		return Item{}, ErrInvalidTaxRate
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "pcs"
	}
	return Item{
		Code:              input.Code,
		Name:              input.Name,
		Category:          strings.TrimSpace(input.Category),
		UnitPrice:         input.UnitPrice.Round(2),
		TaxRate:           input.TaxRate.Round(2),
		Unit:              unit,
		LowStockThreshold: input.LowStockThreshold,
	}, nil
}

// CreateItem registers a new item.
func (s *Service) CreateItem(ctx context.Context, input ItemInput) (Item, error) {
	item, err := s.normaliseItem(input)
	if err != nil {
		return Item{}, err
	}
	return s.repo.InsertItem(ctx, item)
}

// UpdateItem changes the mutable attributes of an existing item.
func (s *Service) UpdateItem(ctx context.Context, code string, input ItemInput) (Item, error) {
	input.Code = code
	item, err := s.normaliseItem(input)
	if err != nil {
		return Item{}, err
	}
	return s.repo.UpdateItem(ctx, item)
}

// DeleteItem removes an item that no ledger or document row references.
func (s *Service) DeleteItem(ctx context.Context, code string) error {
	return s.repo.DeleteItem(ctx, code)
}

// GetItem loads one item.
func (s *Service) GetItem(ctx context.Context, code string) (Item, error) {
	return s.repo.GetItem(ctx, code)
}

// GetItems loads several items and fails on the first unknown code.
func (s *Service) GetItems(ctx context.Context, codes []string) (map[string]Item, error) {
	items, err := s.repo.GetItems(ctx, codes)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		if _, ok := items[code]; !ok {
			return nil, httpx.NewError(httpx.ErrNotFound, fmt.Sprintf("catalog: item %s not found", code))
		}
	}
	return items, nil
}

// ListItems lists the catalog ordered by code.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, input CounterpartyInput) (Counterparty, error) {
	return s.createCounterparty(ctx, KindCustomer, input)
}

// CreateVendor registers a vendor.
func (s *Service) CreateVendor(ctx context.Context, input CounterpartyInput) (Counterparty, error) {
	return s.createCounterparty(ctx, KindVendor, input)
}

func (s *Service) createCounterparty(ctx context.Context, kind CounterpartyKind, input CounterpartyInput) (Counterparty, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return Counterparty{}, err
	}
	return s.repo.InsertCounterparty(ctx, Counterparty{
		ID:      uuid.New(),
		Kind:    kind,
		Name:    input.Name,
		Email:   strings.TrimSpace(input.Email),
		Phone:   strings.TrimSpace(input.Phone),
		Address: strings.TrimSpace(input.Address),
	})
}

// GetCounterparty loads a customer or vendor.
func (s *Service) GetCounterparty(ctx context.Context, kind CounterpartyKind, id uuid.UUID) (Counterparty, error) {
	return s.repo.GetCounterparty(ctx, kind, id)
}

// ListCounterparties lists customers or vendors.
func (s *Service) ListCounterparties(ctx context.Context, kind CounterpartyKind) ([]Counterparty, error) {
	return s.repo.ListCounterparties(ctx, kind)
}

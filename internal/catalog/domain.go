package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Item is a stocked product. Code is its immutable identity.
type Item struct {
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	Unit              string          `json:"unit"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CounterpartyKind separates customers from vendors.
type CounterpartyKind string

const (
	// KindCustomer is billed through sales invoices.
	KindCustomer CounterpartyKind = "customer"
	// KindVendor supplies purchases.
	KindVendor CounterpartyKind = "vendor"
)

// Counterparty is the other side of a document.
type Counterparty struct {
	ID        uuid.UUID        `json:"id"`
	Kind      CounterpartyKind `json:"kind"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Phone     string           `json:"phone"`
	Address   string           `json:"address"`
	CreatedAt time.Time        `json:"created_at"`
}

// ItemInput carries mutable item attributes. Code is ignored on update.
type ItemInput struct {
	Code              string          `json:"code" validate:"required,max=40"`
	Name              string          `json:"name" validate:"required,max=200"`
	Category          string          `json:"category" validate:"max=100"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	Unit              string          `json:"unit" validate:"max=20"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"gte=0"`
}

// CounterpartyInput creates a customer or vendor.
type CounterpartyInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=40"`
	Address string `json:"address" validate:"max=500"`
}

var (
	// ErrItemNotFound indicates an unknown item code.
	ErrItemNotFound = httpx.NewError(httpx.ErrNotFound, "catalog: item not found")
	// ErrDuplicateItem indicates the code is already taken.
	ErrDuplicateItem = httpx.NewError(httpx.ErrDuplicate, "catalog: item code already exists")
	// ErrItemInUse blocks deleting an item referenced by ledger or document rows.
	ErrItemInUse = httpx.NewError(httpx.ErrUnprocessable, "catalog: item is referenced by stock movements or documents")
	// ErrCounterpartyNotFound indicates an unknown customer or vendor id.
	ErrCounterpartyNotFound = httpx.NewError(httpx.ErrNotFound, "catalog: counterparty not found")
	// ErrInvalidPrice rejects negative prices.
	ErrInvalidPrice = httpx.NewError(httpx.ErrValidation, "catalog: unit price must be >= 0")
	// ErrInvalidTaxRate rejects tax rates outside 0..100.
	ErrInvalidTaxRate = httpx.NewError(httpx.ErrValidation, "catalog: tax rate must be between 0 and 100")
)

package documents

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/catalog"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/sequence"
)

// Kind distinguishes sales invoices from vendor purchases.
type Kind string

const (
	// KindBill is a sales invoice; its lines move stock out.
	KindBill Kind = "bill"
	// KindPurchase is a vendor purchase; its lines move stock in.
	KindPurchase Kind = "purchase"
)

// Series returns the numbering stream of the kind.
func (k Kind) Series() sequence.Series {
	if k == KindPurchase {
		return sequence.Purchase
	}
	return sequence.Bill
}

// Movement returns the ledger movement each line produces.
func (k Kind) Movement() ledger.MovementKind {
	if k == KindPurchase {
		return ledger.KindInbound
	}
	return ledger.KindOutbound
}

// Reason is the ledger reason written for a line of document number.
func (k Kind) Reason(number string) string {
	if k == KindPurchase {
		return "Purchase - " + number
	}
	return "Sale - Bill " + number
}

// Counterparty returns the counterparty kind a document must reference.
func (k Kind) Counterparty() catalog.CounterpartyKind {
	if k == KindPurchase {
		return catalog.KindVendor
	}
	return catalog.KindCustomer
}

// Status is the lifecycle state of a document.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// CanTransition reports whether a document of kind k may move from one status to another.
// Bills settle as PAID, purchases as COMPLETED; both may be cancelled while pending.
// Non-pending states are terminal.
func (k Kind) CanTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	switch to {
	case StatusCancelled:
		return true
	case StatusPaid:
		return k == KindBill
	case StatusCompleted:
		return k == KindPurchase
	}
	return false
}

// ItemRef is the item detail carried on a hydrated line.
type ItemRef struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Category string `json:"category"`
}

// LineItem is one document line.
type LineItem struct {
	ID        uuid.UUID       `json:"id"`
	LineNo    int             `json:"line_no"`
	ItemCode  string          `json:"item_code"`
	Item      ItemRef         `json:"item"`
	Quantity  int             `json:"quantity"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

// Document is a bill or a purchase with its lines.
type Document struct {
	ID             uuid.UUID            `json:"id"`
	Kind           Kind                 `json:"kind"`
	Number         string               `json:"number"`
	CounterpartyID uuid.UUID            `json:"counterparty_id"`
	Counterparty   catalog.Counterparty `json:"counterparty"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	TaxAmount      decimal.Decimal      `json:"tax_amount"`
	Total          decimal.Decimal      `json:"total"`
	Status         Status               `json:"status"`
	DocumentDate   time.Time            `json:"document_date"`
	DueDate        *time.Time           `json:"due_date,omitempty"`
	Notes          string               `json:"notes"`
	CreatedBy      string               `json:"created_by"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Lines          []LineItem           `json:"lines"`

	// Replayed is set when an idempotent create returns an earlier result.
	Replayed bool `json:"-"`
}

var (
	// ErrNoLines rejects documents without lines.
	ErrNoLines = httpx.NewError(httpx.ErrValidation, "documents: at least one line is required")
	// ErrInvalidStatus rejects a status change the lifecycle does not allow.
	ErrInvalidStatus = httpx.NewError(httpx.ErrUnprocessable, "documents: invalid status transition")
	// ErrConflict is returned once number allocation retries are exhausted.
	ErrConflict = httpx.NewError(httpx.ErrConflict, "documents: could not allocate a document number")
	// ErrUnavailable reports a create that failed because storage was unreachable.
	// Nothing was written.
	ErrUnavailable = httpx.NewError(httpx.ErrUnavailable, "documents: storage unavailable")
)

// NotFound returns the not-found error of kind.
func NotFound(kind Kind) error {
	return httpx.NewError(httpx.ErrNotFound, fmt.Sprintf("documents: %s not found", kind))
}

var hundred = decimal.NewFromInt(100)

// lineTax computes amount × rate% rounded half-up to cents.
func lineTax(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

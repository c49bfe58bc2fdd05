package documents

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineInput is one requested line. Rate defaults to the item's unit price.
type LineInput struct {
	ItemCode string           `json:"item_code"`
	Quantity int              `json:"quantity"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
}

// CreateInput creates a bill or a purchase.
type CreateInput struct {
	CounterpartyID uuid.UUID   `json:"counterparty_id" validate:"required"`
	DocumentDate   string      `json:"document_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate        string      `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes          string      `json:"notes" validate:"max=1000"`
	Lines          []LineInput `json:"lines"`

	CreatedBy      string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// StatusInput changes a document status.
type StatusInput struct {
	Status Status `json:"status" validate:"required,oneof=PENDING PAID COMPLETED CANCELLED"`
}

package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// KindInbound adds quantity.
	KindInbound MovementKind = "INBOUND"
	// KindOutbound removes quantity.
	KindOutbound MovementKind = "OUTBOUND"
	// KindAbsolute replaces the quantity with a counted value.
	KindAbsolute MovementKind = "ABSOLUTE"
)

// IsValid reports whether k is a known kind.
func (k MovementKind) IsValid() bool {
	switch k {
	case KindInbound, KindOutbound, KindAbsolute:
		return true
	}
	return false
}

// OversellPolicy decides what an outbound movement larger than the on-hand quantity does.
type OversellPolicy string

const (
	// PolicyReject refuses the movement with ErrInsufficientStock.
	PolicyReject OversellPolicy = "reject"
	// PolicyClamp records the movement and floors the quantity at zero.
	PolicyClamp OversellPolicy = "clamp"
	// PolicyBackorder records the movement and lets the quantity go negative.
	PolicyBackorder OversellPolicy = "backorder"
)

// ParseOversellPolicy validates a configured policy name.
func ParseOversellPolicy(raw string) (OversellPolicy, error) {
	switch p := OversellPolicy(raw); p {
	case PolicyReject, PolicyClamp, PolicyBackorder:
		return p, nil
	case "":
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("ledger: unknown oversell policy %q", raw)
	}
}

// Movement is one append-only ledger entry. BalanceAfter is the projected
// quantity right after the movement was applied.
type Movement struct {
	ID           int64        `json:"id"`
	ItemCode     string       `json:"item_code"`
	Kind         MovementKind `json:"kind"`
	Quantity     int          `json:"quantity"`
	BalanceAfter int          `json:"balance_after"`
	Reason       string       `json:"reason"`
	RefType      string       `json:"ref_type,omitempty"`
	RefID        *uuid.UUID   `json:"ref_id,omitempty"`
	CreatedBy    string       `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// StockLevel is the projected quantity of one item.
type StockLevel struct {
	ItemCode          string    `json:"item_code"`
	ItemName          string    `json:"item_name"`
	Unit              string    `json:"unit"`
	Quantity          int       `json:"quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RecordInput describes a movement to append.
type RecordInput struct {
	ItemCode  string       `json:"item_code" validate:"required"`
	Kind      MovementKind `json:"kind" validate:"required,oneof=INBOUND OUTBOUND ABSOLUTE"`
	Quantity  int          `json:"quantity"`
	Reason    string       `json:"reason" validate:"max=500"`
	RefType   string       `json:"-"`
	RefID     *uuid.UUID   `json:"-"`
	CreatedBy string       `json:"-"`
}

// Drift reports an item whose projection disagrees with its ledger replay.
type Drift struct {
	ItemCode  string `json:"item_code"`
	Projected int    `json:"projected"`
	Replayed  int    `json:"replayed"`
	Movements int    `json:"movements"`
}

var (
	// ErrInvalidQuantity rejects non-positive inbound/outbound or negative absolute quantities.
	ErrInvalidQuantity = httpx.NewError(httpx.ErrValidation, "ledger: quantity must be > 0 for inbound/outbound and >= 0 for absolute")
	// ErrInvalidKind rejects unknown movement kinds.
	ErrInvalidKind = httpx.NewError(httpx.ErrValidation, "ledger: kind must be INBOUND, OUTBOUND or ABSOLUTE")
	// ErrUnknownItem indicates the item code does not exist.
	ErrUnknownItem = httpx.NewError(httpx.ErrNotFound, "ledger: unknown item")
	// ErrInsufficientStock is returned under PolicyReject when an outbound exceeds stock.
	ErrInsufficientStock = httpx.NewError(httpx.ErrUnprocessable, "ledger: insufficient stock")
)

// Apply computes the quantity after one movement. It is the only place the
// projection arithmetic lives; Record and Replay both go through it.
func Apply(current int, kind MovementKind, qty int, policy OversellPolicy) (int, error) {
	switch kind {
	case KindInbound:
		if qty <= 0 {
			return current, ErrInvalidQuantity
		}
		return current + qty, nil
	case KindOutbound:
		if qty <= 0 {
			return current, ErrInvalidQuantity
		}
		next := current - qty
		if next >= 0 || policy == PolicyBackorder {
			return next, nil
		}
		if policy == PolicyClamp {
			if current < 0 {
				// Unreachable from a clamped history; keep the floor monotone.
				return current, nil
			}
			return 0, nil
		}
		return current, fmt.Errorf("%w: %d on hand, %d requested", ErrInsufficientStock, current, qty)
	case KindAbsolute:
		if qty < 0 {
			return current, ErrInvalidQuantity
		}
		return qty, nil
	default:
		return current, ErrInvalidKind
	}
}

// Replay folds movements, oldest first, from an empty projection. Rejected
// outbounds never reach the ledger, so PolicyReject replays like PolicyClamp.
func Replay(movements []Movement, policy OversellPolicy) int {
	if policy == PolicyReject {
		policy = PolicyClamp
	}
	qty := 0
	for _, m := range movements {
		next, err := Apply(qty, m.Kind, m.Quantity, policy)
		if err != nil {
			continue
		}
		qty = next
	}
	return qty
}

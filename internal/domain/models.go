package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType is the resolved, server-side type of a ledger entry.
type EntryType string

const (
	TypeIn        EntryType = "IN"
	TypeOut       EntryType = "OUT"
	TypeAdjust    EntryType = "ADJUST"
	TypeReserve   EntryType = "RESERVE"
	TypeUnreserve EntryType = "UNRESERVE"
)

func (t EntryType) Valid() bool {
	switch t {
	case TypeIn, TypeOut, TypeAdjust, TypeReserve, TypeUnreserve:
		return true
	}
	return false
}

// Bucket is the accumulator a ledger entry affects.
type Bucket string

const (
	BucketOnHand   Bucket = "ON_HAND"
	BucketReserved Bucket = "RESERVED"
)

func (b Bucket) Valid() bool {
	return b == BucketOnHand || b == BucketReserved
}

// Direction picks the sign of an ADJUST intent.
type Direction string

const (
	DirectionIncrease Direction = "INCREASE"
	DirectionDecrease Direction = "DECREASE"
)

// Reasons with a dedicated sub-sum in the RESERVED breakdown.
const (
	ReasonReturnPending        = "RETURN_PENDING"
	ReasonOrderPendingShipment = "ORDER_PENDING_SHIPMENT"
)

// MaxBatchSize bounds the number of intents accepted by a single commit.
const MaxBatchSize = 10

// Product is the master record the ledger hangs off.
// Version is the product's own optimistic lock and is unrelated to StockHead.Version.
type Product struct {
	ID           uuid.UUID        `json:"id"`
	Code         string           `json:"code"`
	Name         string           `json:"name"`
	Spec         *string          `json:"spec"`
	Unit         string           `json:"unit"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	UnitWeight   *decimal.Decimal `json:"unit_weight"`
	ReorderPoint int64            `json:"reorder_point"`
	Active       bool             `json:"active"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LedgerEntry is an immutable signed quantity change.
// Once committed it is never updated or deleted.
type LedgerEntry struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Type           EntryType `json:"type"`
	Bucket         Bucket    `json:"bucket"`
	Delta          int64     `json:"qty_delta"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"-"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// StockHead is the per-product lock counter guarding ledger commits.
type StockHead struct {
	ProductID uuid.UUID `json:"product_id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockLevel is derived from the ledger and never persisted.
type StockLevel struct {
	OnHand    int64 `json:"on_hand"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

// NewStockLevel derives Available from the two bucket totals.
func NewStockLevel(onHand, reserved int64) StockLevel {
	return StockLevel{OnHand: onHand, Reserved: reserved, Available: onHand - reserved}
}

// Intent is a client-submitted, sign-free operation. Empty Direction,
// Reason and IdempotencyKey mean "absent".
type Intent struct {
	Type           EntryType
	Quantity       int64
	Direction      Direction
	Reason         string
	IdempotencyKey string
}

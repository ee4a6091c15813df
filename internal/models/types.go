package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/stockledger/internal/domain"
)

// TransactionRequest is one sign-free intent as sent by the client.
type TransactionRequest struct {
	Type      string `json:"type" validate:"required,oneof=IN OUT ADJUST RESERVE UNRESERVE"`
	Qty       int64  `json:"qty" validate:"gte=1"`
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=INCREASE DECREASE"`
	Reason    string `json:"reason,omitempty" validate:"max=500"`
	RequestID string `json:"request_id,omitempty" validate:"max=100"`
}

type BatchTransactionRequest struct {
	Transactions []TransactionRequest `json:"transactions" validate:"required,min=1,max=10,dive"`
}

type CreateProductRequest struct {
	Code         string           `json:"code" validate:"required,max=50"`
	Name         string           `json:"name" validate:"required,max=200"`
	Spec         *string          `json:"spec" validate:"omitempty,max=500"`
	Unit         string           `json:"unit" validate:"required,max=20"`
	UnitPrice    *decimal.Decimal `json:"unit_price" validate:"required"`
	UnitWeight   *decimal.Decimal `json:"unit_weight"`
	ReorderPoint *int64           `json:"reorder_point" validate:"required,gte=0"`
}

// Nullable tells an absent field (Set false) from an explicit null (Set true,
// Value nil).
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// UpdateProductRequest is a partial update; Version is the product version
// the client last read. Spec and UnitWeight may be cleared with null.
type UpdateProductRequest struct {
	Code         *string                   `json:"code" validate:"omitempty,min=1,max=50"`
	Name         *string                   `json:"name" validate:"omitempty,min=1,max=200"`
	Spec         Nullable[string]          `json:"spec"`
	Unit         *string                   `json:"unit" validate:"omitempty,min=1,max=20"`
	UnitPrice    *decimal.Decimal          `json:"unit_price"`
	UnitWeight   Nullable[decimal.Decimal] `json:"unit_weight"`
	ReorderPoint *int64                    `json:"reorder_point" validate:"omitempty,gte=0"`
	Version      *int64                    `json:"version" validate:"required"`
}

type PaginationMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

type ProductEnvelope struct {
	Data domain.Product `json:"data"`
}

type DeletedProduct struct {
	ID     uuid.UUID `json:"id"`
	Active bool      `json:"active"`
}

type DeletedProductEnvelope struct {
	Data DeletedProduct `json:"data"`
}

// TxResponse is a committed ledger entry.
type TxResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Type      string    `json:"type"`
	Bucket    string    `json:"bucket"`
	QtyDelta  int64     `json:"qty_delta"`
	Reason    *string   `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type StockSummary struct {
	Available int64 `json:"available"`
	OnHand    int64 `json:"on_hand"`
	Reserved  int64 `json:"reserved"`
}

type StockEnvelope struct {
	Data StockSummary `json:"data"`
}

type TxEnvelope struct {
	Data  TxResponse   `json:"data"`
	Stock StockSummary `json:"stock"`
}

type TxBatchEnvelope struct {
	Data  []TxResponse `json:"data"`
	Stock StockSummary `json:"stock"`
}

type TxListEnvelope struct {
	Data       []TxResponse   `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// StockTotals carries the quantity breakdown shared by stock views.
type StockTotals struct {
	OnHand                int64           `json:"on_hand"`
	ReservedTotal         int64           `json:"reserved_total"`
	ReservedPendingReturn int64           `json:"reserved_pending_return"`
	ReservedPendingOrder  int64           `json:"reserved_pending_order"`
	Available             int64           `json:"available"`
	StockValue            decimal.Decimal `json:"stock_value"`
}

type DashboardStockItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	StockTotals
}

type DashboardTopEnvelope struct {
	Data        []DashboardStockItem `json:"data"`
	OthersTotal StockTotals          `json:"others_total"`
}

type StockListItem struct {
	DashboardStockItem
	Spec         *string          `json:"spec"`
	UnitWeight   *decimal.Decimal `json:"unit_weight"`
	ReorderPoint int64            `json:"reorder_point"`
	NeedsReorder bool             `json:"needs_reorder"`
}

type StockListEnvelope struct {
	Data       []StockListItem `json:"data"`
	Pagination PaginationMeta  `json:"pagination"`
}

// CategoryItem renders MetricValue as a bare JSON number: a quantity for
// qty/available/reserved, a money amount for value.
type CategoryItem struct {
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	MetricValue json.Number `json:"metric_value"`
}

type CategoryEnvelope struct {
	Metric    string         `json:"metric"`
	Total     json.Number    `json:"total"`
	Breakdown []CategoryItem `json:"breakdown"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

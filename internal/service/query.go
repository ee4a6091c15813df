package service

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/store"
)

const (
	MaxPerPage  = 100
	MaxTopLimit = 20

	// OtherCategory is the key collecting categories beyond the requested limit.
	OtherCategory = "OTHER"
)

const (
	MetricQty       = "qty"
	MetricValue     = "value"
	MetricAvailable = "available"
	MetricReserved  = "reserved"
)

const (
	SortQtyDesc     = "qty_desc"
	SortQtyAsc      = "qty_asc"
	SortValueDesc   = "value_desc"
	SortValueAsc    = "value_asc"
	SortUpdatedDesc = "updated_desc"
)

// StockItem is one product with its grouped ledger sums.
type StockItem struct {
	Product               domain.Product
	OnHand                int64
	ReservedTotal         int64
	ReservedPendingReturn int64
	ReservedPendingOrder  int64
	Available             int64
	StockValue            decimal.Decimal
	NeedsReorder          bool
}

// StockTotals sums the quantity fields of several items.
type StockTotals struct {
	OnHand                int64
	ReservedTotal         int64
	ReservedPendingReturn int64
	ReservedPendingOrder  int64
	Available             int64
	StockValue            decimal.Decimal
}

func (t *StockTotals) add(it StockItem) {
	t.OnHand += it.OnHand
	t.ReservedTotal += it.ReservedTotal
	t.ReservedPendingReturn += it.ReservedPendingReturn
	t.ReservedPendingOrder += it.ReservedPendingOrder
	t.Available += it.Available
	t.StockValue = t.StockValue.Add(it.StockValue)
}

type TopStock struct {
	Items  []StockItem
	Others StockTotals
}

type StockListQuery struct {
	Search          string
	Sort            string
	Page            int
	PerPage         int
	IncludeInactive bool
}

type CategorySlice struct {
	Key   string
	Label string
	Value decimal.Decimal
}

type CategoryBreakdown struct {
	Metric    string
	Total     decimal.Decimal
	Breakdown []CategorySlice
}

// QueryService answers read-only questions over committed state.
type QueryService struct {
	store store.Store
	log   logrus.FieldLogger
}

func NewQueryService(s store.Store, log logrus.FieldLogger) *QueryService {
	return &QueryService{store: s, log: log}
}

// ListEntries returns one page of a product's ledger, newest first, with the
// filtered total.
func (q *QueryService) ListEntries(ctx context.Context, productID uuid.UUID, filter store.EntryFilter, page, perPage int) ([]domain.LedgerEntry, int64, error) {
	if err := checkPage(page, perPage); err != nil {
		return nil, 0, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, domain.Validation("unknown transaction type %q", filter.Type)
	}
	if filter.Bucket != "" && !filter.Bucket.Valid() {
		return nil, 0, domain.Validation("unknown bucket %q", filter.Bucket)
	}
	if _, err := q.store.GetProduct(ctx, productID); err != nil {
		return nil, 0, productLookupError(productID, err)
	}

	entries, total, err := q.store.ListEntries(ctx, productID, filter, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	return entries, total, nil
}

// TopStock ranks products by on-hand quantity or stock value and folds
// everything past limit into Others.
func (q *QueryService) TopStock(ctx context.Context, metric string, limit int, includeInactive bool) (*TopStock, error) {
	if metric != MetricQty && metric != MetricValue {
		return nil, domain.Validation("metric must be %s or %s", MetricQty, MetricValue)
	}
	if limit < 1 || limit > MaxTopLimit {
		return nil, domain.Validation("limit must be between 1 and %d", MaxTopLimit)
	}

	items, err := q.items(ctx, store.BreakdownFilter{IncludeInactive: includeInactive})
	if err != nil {
		return nil, err
	}
	if metric == MetricValue {
		sortItems(items, SortValueDesc)
	} else {
		sortItems(items, SortQtyDesc)
	}

	res := &TopStock{Items: items}
	if len(items) > limit {
		res.Items = items[:limit]
		for _, it := range items[limit:] {
			res.Others.add(it)
		}
	}
	return res, nil
}

// StockList searches, sorts and paginates the per-product stock view.
// An empty sort means qty_desc.
func (q *QueryService) StockList(ctx context.Context, in StockListQuery) ([]StockItem, int64, error) {
	if err := checkPage(in.Page, in.PerPage); err != nil {
		return nil, 0, err
	}
	if in.Sort == "" {
		in.Sort = SortQtyDesc
	}
	switch in.Sort {
	case SortQtyDesc, SortQtyAsc, SortValueDesc, SortValueAsc, SortUpdatedDesc:
	default:
		return nil, 0, domain.Validation("unknown sort %q", in.Sort)
	}

	items, err := q.items(ctx, store.BreakdownFilter{
		IncludeInactive: in.IncludeInactive,
		Search:          strings.TrimSpace(in.Search),
	})
	if err != nil {
		return nil, 0, err
	}
	sortItems(items, in.Sort)

	total := int64(len(items))
	start := (in.Page - 1) * in.PerPage
	if start >= len(items) {
		return []StockItem{}, total, nil
	}
	end := min(start+in.PerPage, len(items))
	return items[start:end], total, nil
}

// ByCategory groups active products by the first token of their name.
func (q *QueryService) ByCategory(ctx context.Context, metric string, limit int) (*CategoryBreakdown, error) {
	if limit < 1 || limit > MaxTopLimit {
		return nil, domain.Validation("limit must be between 1 and %d", MaxTopLimit)
	}
	value, err := categoryMetric(metric)
	if err != nil {
		return nil, err
	}

	items, err := q.items(ctx, store.BreakdownFilter{})
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	for _, it := range items {
		key := domain.Category(it.Product.Name)
		sums[key] = sums[key].Add(value(it))
	}

	parts := make([]CategorySlice, 0, len(sums))
	total := decimal.Zero
	for key, v := range sums {
		parts = append(parts, CategorySlice{Key: key, Label: key, Value: v})
		total = total.Add(v)
	}
	sort.Slice(parts, func(i, j int) bool {
		if c := parts[i].Value.Cmp(parts[j].Value); c != 0 {
			return c > 0
		}
		return parts[i].Key < parts[j].Key
	})

	if len(parts) > limit {
		other := decimal.Zero
		for _, p := range parts[limit:] {
			other = other.Add(p.Value)
		}
		parts = append(parts[:limit], CategorySlice{Key: OtherCategory, Label: OtherCategory, Value: other})
	}

	return &CategoryBreakdown{Metric: metric, Total: total, Breakdown: parts}, nil
}

func (q *QueryService) items(ctx context.Context, filter store.BreakdownFilter) ([]StockItem, error) {
	rows, err := q.store.StockBreakdowns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("stock breakdowns: %w", err)
	}
	items := make([]StockItem, len(rows))
	for i, r := range rows {
		items[i] = toStockItem(r)
	}
	q.log.WithFields(logrus.Fields{"rows": len(items), "search": filter.Search}).Debug("stock breakdowns loaded")
	return items, nil
}

func toStockItem(b store.Breakdown) StockItem {
	available := b.OnHand - b.ReservedTotal
	return StockItem{
		Product:               b.Product,
		OnHand:                b.OnHand,
		ReservedTotal:         b.ReservedTotal,
		ReservedPendingReturn: b.ReservedPendingReturn,
		ReservedPendingOrder:  b.ReservedPendingOrder,
		Available:             available,
		StockValue:            decimal.NewFromInt(b.OnHand).Mul(b.Product.UnitPrice),
		NeedsReorder:          available <= b.Product.ReorderPoint,
	}
}

// sortItems orders by the requested key with product code as the tie-break.
func sortItems(items []StockItem, by string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		var c int
		switch by {
		case SortQtyAsc:
			c = cmp.Compare(a.OnHand, b.OnHand)
		case SortValueDesc:
			c = -a.StockValue.Cmp(b.StockValue)
		case SortValueAsc:
			c = a.StockValue.Cmp(b.StockValue)
		case SortUpdatedDesc:
			c = -a.Product.UpdatedAt.Compare(b.Product.UpdatedAt)
		default:
			c = -cmp.Compare(a.OnHand, b.OnHand)
		}
		if c != 0 {
			return c < 0
		}
		return a.Product.Code < b.Product.Code
	})
}

func categoryMetric(metric string) (func(StockItem) decimal.Decimal, error) {
	switch metric {
	case MetricValue:
		return func(it StockItem) decimal.Decimal { return it.StockValue }, nil
	case MetricQty:
		return func(it StockItem) decimal.Decimal { return decimal.NewFromInt(it.OnHand) }, nil
	case MetricAvailable:
		return func(it StockItem) decimal.Decimal { return decimal.NewFromInt(it.Available) }, nil
	case MetricReserved:
		return func(it StockItem) decimal.Decimal { return decimal.NewFromInt(it.ReservedTotal) }, nil
	}
	return nil, domain.Validation("metric must be one of value, qty, available, reserved")
}

func checkPage(page, perPage int) error {
	if page < 1 {
		return domain.Validation("page must be at least 1")
	}
	if perPage < 1 || perPage > MaxPerPage {
		return domain.Validation("per_page must be between 1 and %d", MaxPerPage)
	}
	// The offset (page-1)*perPage must fit in an int.
	if page-1 > math.MaxInt/perPage {
		return domain.Validation("page %d is out of range", page)
	}
	return nil
}

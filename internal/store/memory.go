package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/stockledger/internal/domain"
)

type rowKey struct {
	table string
	id    uuid.UUID
}

// Memory is an in-process Store. Writes are buffered per unit of work and
// applied under a single lock on Commit; conditional updates take a row lock
// held until the unit ends, which gives the same blocking behaviour as a
// row-level UPDATE in Postgres.
type Memory struct {
	mu       sync.RWMutex
	products map[uuid.UUID]domain.Product
	heads    map[uuid.UUID]domain.StockHead
	entries  []domain.LedgerEntry
	keys     map[string]struct{}
	locks    map[rowKey]chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		products: make(map[uuid.UUID]domain.Product),
		heads:    make(map[uuid.UUID]domain.StockHead),
		keys:     make(map[string]struct{}),
		locks:    make(map[rowKey]chan struct{}),
	}
}

func (m *Memory) Close() {}

func (m *Memory) Begin(ctx context.Context) (UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		m:        m,
		heads:    make(map[uuid.UUID]domain.StockHead),
		products: make(map[uuid.UUID]domain.Product),
	}, nil
}

func (m *Memory) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetStockHead(ctx context.Context, productID uuid.UUID) (domain.StockHead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.heads[productID]
	if !ok {
		return domain.StockHead{}, ErrNotFound
	}
	return h, nil
}

func (m *Memory) SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sumEntries(m.entries, productID), nil
}

func (m *Memory) ListEntries(ctx context.Context, productID uuid.UUID, filter EntryFilter, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	m.mu.RLock()
	matched := make([]domain.LedgerEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ProductID != productID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Bucket != "" && e.Bucket != filter.Bucket {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := int64(len(matched))
	offset = max(offset, 0)
	if offset >= len(matched) {
		return []domain.LedgerEntry{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) || end < offset {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *Memory) StockBreakdowns(ctx context.Context, filter BreakdownFilter) ([]Breakdown, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byProduct := make(map[uuid.UUID]*Breakdown)
	for _, p := range m.products {
		if !filter.IncludeInactive && !p.Active {
			continue
		}
		if !matchesSearch(p, filter.Search) {
			continue
		}
		byProduct[p.ID] = &Breakdown{Product: p}
	}

	for _, e := range m.entries {
		b, ok := byProduct[e.ProductID]
		if !ok {
			continue
		}
		switch e.Bucket {
		case domain.BucketOnHand:
			b.OnHand += e.Delta
		case domain.BucketReserved:
			b.ReservedTotal += e.Delta
			switch e.Reason {
			case domain.ReasonReturnPending:
				b.ReservedPendingReturn += e.Delta
			case domain.ReasonOrderPendingShipment:
				b.ReservedPendingOrder += e.Delta
			}
		}
	}

	out := make([]Breakdown, 0, len(byProduct))
	for _, b := range byProduct {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.Code < out[j].Product.Code })
	return out, nil
}

func matchesSearch(p domain.Product, q string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(p.Code), q) || strings.Contains(strings.ToLower(p.Name), q) {
		return true
	}
	return p.Spec != nil && strings.Contains(strings.ToLower(*p.Spec), q)
}

func sumEntries(entries []domain.LedgerEntry, productID uuid.UUID) domain.StockLevel {
	var onHand, reserved int64
	for _, e := range entries {
		if e.ProductID != productID {
			continue
		}
		switch e.Bucket {
		case domain.BucketOnHand:
			onHand += e.Delta
		case domain.BucketReserved:
			reserved += e.Delta
		}
	}
	return domain.NewStockLevel(onHand, reserved)
}

func (m *Memory) lockRow(ctx context.Context, key rowKey) error {
	m.mu.Lock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) unlockRow(key rowKey) {
	m.mu.RLock()
	ch := m.locks[key]
	m.mu.RUnlock()
	<-ch
}

type memoryTx struct {
	m        *Memory
	held     []rowKey
	heads    map[uuid.UUID]domain.StockHead
	products map[uuid.UUID]domain.Product
	entries  []domain.LedgerEntry
	done     bool
}

func (tx *memoryTx) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	return tx.m.GetProduct(ctx, id)
}

func (tx *memoryTx) GetStockHead(ctx context.Context, productID uuid.UUID) (domain.StockHead, error) {
	if h, ok := tx.heads[productID]; ok {
		return h, nil
	}
	return tx.m.GetStockHead(ctx, productID)
}

func (tx *memoryTx) SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	committed, err := tx.m.SumByBucket(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	own := sumEntries(tx.entries, productID)
	return domain.NewStockLevel(committed.OnHand+own.OnHand, committed.Reserved+own.Reserved), nil
}

func (tx *memoryTx) acquire(ctx context.Context, key rowKey) error {
	for _, k := range tx.held {
		if k == key {
			return nil
		}
	}
	if err := tx.m.lockRow(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memoryTx) BumpStockHead(ctx context.Context, productID uuid.UUID, expected int64, at time.Time) (bool, error) {
	if err := tx.acquire(ctx, rowKey{"stock_heads", productID}); err != nil {
		return false, err
	}
	h, err := tx.GetStockHead(ctx, productID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if h.Version != expected {
		return false, nil
	}
	tx.heads[productID] = domain.StockHead{ProductID: productID, Version: expected + 1, UpdatedAt: at}
	return true, nil
}

func (tx *memoryTx) AppendEntries(ctx context.Context, entries []domain.LedgerEntry) error {
	seen := make(map[string]struct{})
	for _, e := range tx.entries {
		if e.IdempotencyKey != "" {
			seen[e.IdempotencyKey] = struct{}{}
		}
	}

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if _, dup := seen[e.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
		if _, dup := tx.m.keys[e.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = struct{}{}
	}
	tx.entries = append(tx.entries, entries...)
	return nil
}

func (tx *memoryTx) InsertProduct(ctx context.Context, p domain.Product) error {
	tx.m.mu.RLock()
	dup := tx.m.codeTaken(p.Code, p.ID)
	tx.m.mu.RUnlock()
	if dup || tx.pendingCodeTaken(p.Code, p.ID) {
		return ErrDuplicateCode
	}
	tx.products[p.ID] = p
	tx.heads[p.ID] = domain.StockHead{ProductID: p.ID, Version: 0, UpdatedAt: p.CreatedAt}
	return nil
}

func (tx *memoryTx) UpdateProduct(ctx context.Context, p domain.Product, expected int64) (bool, error) {
	if err := tx.acquire(ctx, rowKey{"products", p.ID}); err != nil {
		return false, err
	}
	cur, err := tx.GetProduct(ctx, p.ID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Version != expected {
		return false, nil
	}

	tx.m.mu.RLock()
	dup := tx.m.codeTaken(p.Code, p.ID)
	tx.m.mu.RUnlock()
	if dup || tx.pendingCodeTaken(p.Code, p.ID) {
		return false, ErrDuplicateCode
	}
	tx.products[p.ID] = p
	return true, nil
}

func (tx *memoryTx) pendingCodeTaken(code string, self uuid.UUID) bool {
	for id, p := range tx.products {
		if id != self && p.Code == code {
			return true
		}
	}
	return false
}

// codeTaken must be called with m.mu held.
func (m *Memory) codeTaken(code string, self uuid.UUID) bool {
	for id, p := range m.products {
		if id != self && p.Code == code {
			return true
		}
	}
	return false
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	defer tx.release()

	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness is rechecked here: another unit may have committed the same
	// key or code after this one buffered its writes.
	for _, e := range tx.entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if _, dup := m.keys[e.IdempotencyKey]; dup {
			return ErrDuplicateIdempotencyKey
		}
	}
	for id, p := range tx.products {
		if m.codeTaken(p.Code, id) {
			return ErrDuplicateCode
		}
	}

	for id, p := range tx.products {
		m.products[id] = p
	}
	for id, h := range tx.heads {
		m.heads[id] = h
	}
	for _, e := range tx.entries {
		m.entries = append(m.entries, e)
		if e.IdempotencyKey != "" {
			m.keys[e.IdempotencyKey] = struct{}{}
		}
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

func (tx *memoryTx) release() {
	tx.done = true
	for _, k := range tx.held {
		tx.m.unlockRow(k)
	}
	tx.held = nil
}

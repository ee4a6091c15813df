package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/stockledger/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateCode           = errors.New("duplicate product code")
)

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Type   domain.EntryType
	Bucket domain.Bucket
}

// BreakdownFilter narrows StockBreakdowns.
type BreakdownFilter struct {
	IncludeInactive bool
	// Search is a case-insensitive substring matched against code, name and spec.
	Search string
}

// Breakdown is a product joined with its grouped ledger sums.
type Breakdown struct {
	Product               domain.Product
	OnHand                int64
	ReservedTotal         int64
	ReservedPendingReturn int64
	ReservedPendingOrder  int64
}

// Reader is the read surface shared by the store and an open unit of work.
type Reader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error)
	GetStockHead(ctx context.Context, productID uuid.UUID) (domain.StockHead, error)
	// SumByBucket folds every committed entry of the product into a StockLevel.
	SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error)
}

// UnitOfWork is a transactional handle: all writes become visible together on
// Commit, or not at all. Rollback after Commit is a no-op.
//
// Ledger entries are never updated or deleted.
type UnitOfWork interface {
	Reader

	// BumpStockHead moves the head from expected to expected+1. It reports false
	// when the stored version no longer equals expected.
	BumpStockHead(ctx context.Context, productID uuid.UUID, expected int64, at time.Time) (bool, error)
	// AppendEntries inserts entries in order. A reused idempotency key yields
	// ErrDuplicateIdempotencyKey.
	AppendEntries(ctx context.Context, entries []domain.LedgerEntry) error

	// InsertProduct stores a product together with its stock head at version 0.
	InsertProduct(ctx context.Context, p domain.Product) error
	// UpdateProduct replaces the product row when its stored version equals
	// expected, writing p.Version as the new version.
	UpdateProduct(ctx context.Context, p domain.Product, expected int64) (bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the ledger store. Each call outside a UnitOfWork sees committed state only.
type Store interface {
	Reader

	Begin(ctx context.Context) (UnitOfWork, error)
	// ListEntries returns a page of entries, newest first, and the filtered total.
	ListEntries(ctx context.Context, productID uuid.UUID, filter EntryFilter, limit, offset int) ([]domain.LedgerEntry, int64, error)
	StockBreakdowns(ctx context.Context, filter BreakdownFilter) ([]Breakdown, error)
	Close()
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

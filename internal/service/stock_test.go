package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/logging"
	"github.com/punchamoorthee/stockledger/internal/store"
)

type fixture struct {
	store    store.Store
	stock    *StockService
	products *ProductService
	queries  *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory())
}

func newFixtureOn(t *testing.T, s store.Store) *fixture {
	t.Helper()
	log := logging.Discard()
	return &fixture{
		store:    s,
		stock:    NewStockService(s, log),
		products: NewProductService(s, log),
		queries:  NewQueryService(s, log),
	}
}

func (f *fixture) product(t *testing.T, code, name string, price int64) domain.Product {
	t.Helper()
	p, err := f.products.Create(context.Background(), NewProduct{
		Code:      code,
		Name:      name,
		Unit:      "pc",
		UnitPrice: decimal.NewFromInt(price),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) commit(t *testing.T, id uuid.UUID, intents ...domain.Intent) *CommitResult {
	t.Helper()
	res, err := f.stock.Commit(context.Background(), id, intents)
	require.NoError(t, err)
	return res
}

func (f *fixture) level(t *testing.T, id uuid.UUID) domain.StockLevel {
	t.Helper()
	level, err := f.stock.Project(context.Background(), id)
	require.NoError(t, err)
	return level
}

func (f *fixture) version(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	h, err := f.store.GetStockHead(context.Background(), id)
	require.NoError(t, err)
	return h.Version
}

func in(qty int64) domain.Intent      { return domain.Intent{Type: domain.TypeIn, Quantity: qty} }
func out(qty int64) domain.Intent     { return domain.Intent{Type: domain.TypeOut, Quantity: qty} }
func reserve(qty int64) domain.Intent { return domain.Intent{Type: domain.TypeReserve, Quantity: qty} }
func unreserve(qty int64) domain.Intent {
	return domain.Intent{Type: domain.TypeUnreserve, Quantity: qty}
}

func TestCommit_ReceiveIntoFreshProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	res := f.commit(t, p.ID, in(100))

	assert.Equal(t, domain.NewStockLevel(100, 0), res.Stock)
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, domain.TypeIn, e.Type)
	assert.Equal(t, domain.BucketOnHand, e.Bucket)
	assert.Equal(t, int64(100), e.Delta)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, domain.NewStockLevel(100, 0), f.level(t, p.ID))
}

func TestCommit_ReserveBeyondAvailable(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	f.commit(t, p.ID, in(100))

	res := f.commit(t, p.ID, reserve(30))
	assert.Equal(t, domain.NewStockLevel(100, 30), res.Stock)

	_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{reserve(80)})
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailable)
	assert.Equal(t, domain.NewStockLevel(100, 30), f.level(t, p.ID))
	assert.Equal(t, int64(2), f.version(t, p.ID))
}

func TestCommit_ShipEverythingThenOneMore(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	f.commit(t, p.ID, in(100))

	res := f.commit(t, p.ID, out(100))
	assert.Equal(t, int64(0), res.Stock.OnHand)

	_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{out(1)})
	assert.ErrorIs(t, err, domain.ErrInsufficientOnHand)
	assert.Equal(t, domain.StockLevel{}, f.level(t, p.ID))
}

func TestCommit_Adjust(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	res := f.commit(t, p.ID, domain.Intent{Type: domain.TypeAdjust, Quantity: 5, Direction: domain.DirectionIncrease})
	assert.Equal(t, domain.NewStockLevel(5, 0), res.Stock)

	_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{{Type: domain.TypeAdjust, Quantity: 5}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(1), f.version(t, p.ID))

	res = f.commit(t, p.ID, domain.Intent{Type: domain.TypeAdjust, Quantity: 2, Direction: domain.DirectionDecrease})
	assert.Equal(t, domain.NewStockLevel(3, 0), res.Stock)
	assert.Equal(t, domain.BucketOnHand, res.Entries[0].Bucket)
	assert.Equal(t, int64(-2), res.Entries[0].Delta)
}

func TestCommit_ReturnFlow(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	f.commit(t, p.ID, in(20), reserve(5))

	res := f.commit(t, p.ID,
		domain.Intent{Type: domain.TypeIn, Quantity: 10, Reason: "RETURN_ARRIVED"},
		domain.Intent{Type: domain.TypeReserve, Quantity: 10, Reason: domain.ReasonReturnPending},
	)
	assert.Equal(t, domain.NewStockLevel(30, 15), res.Stock)
	assert.Equal(t, int64(15), res.Stock.Available, "available is unchanged by the return")

	res = f.commit(t, p.ID, unreserve(10))
	assert.Equal(t, int64(25), res.Stock.Available)
}

func TestCommit_BatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	f.commit(t, p.ID, in(10))

	_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{in(5), out(20)})
	assert.ErrorIs(t, err, domain.ErrInsufficientOnHand)

	assert.Equal(t, domain.NewStockLevel(10, 0), f.level(t, p.ID))
	assert.Equal(t, int64(1), f.version(t, p.ID))
	_, total, err := f.store.ListEntries(context.Background(), p.ID, store.EntryFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCommit_ChecksNetStateOnly(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	// OUT before IN would dip below zero step by step; the net result is fine.
	res := f.commit(t, p.ID, out(5), in(10))
	assert.Equal(t, domain.NewStockLevel(5, 0), res.Stock)
}

func TestCommit_ViolationOrder(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	// Breaks both ON_HAND and AVAILABLE; ON_HAND is reported.
	_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{out(1), reserve(1)})
	assert.Equal(t, domain.KindInsufficientOnHand, domain.KindOf(err))

	_, err = f.stock.Commit(context.Background(), p.ID, []domain.Intent{unreserve(1)})
	assert.Equal(t, domain.KindInsufficientReserved, domain.KindOf(err))
}

func TestCommit_VersionBumpsOncePerBatch(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	require.Equal(t, int64(0), f.version(t, p.ID))

	f.commit(t, p.ID, in(10), reserve(2))
	assert.Equal(t, int64(1), f.version(t, p.ID))

	f.commit(t, p.ID, in(1))
	assert.Equal(t, int64(2), f.version(t, p.ID))
}

func TestCommit_FoldIgnoresBatchBoundaries(t *testing.T) {
	f := newFixture(t)
	together := f.product(t, "P-1", "Pipe 25A", 100)
	apart := f.product(t, "P-2", "Pipe 50A", 100)

	f.commit(t, together.ID, in(40), reserve(15), out(10))
	f.commit(t, apart.ID, in(40))
	f.commit(t, apart.ID, reserve(15))
	f.commit(t, apart.ID, out(10))

	assert.Equal(t, f.level(t, together.ID), f.level(t, apart.ID))
}

func TestCommit_Idempotency(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)
	keyed := in(10)
	keyed.IdempotencyKey = "req-1"
	f.commit(t, p.ID, keyed)

	t.Run("replayed in a later batch", func(t *testing.T) {
		_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{in(1), keyed})
		assert.ErrorIs(t, err, domain.ErrDuplicateRequestID)
	})

	t.Run("twice in one batch", func(t *testing.T) {
		a, b := in(1), in(1)
		a.IdempotencyKey, b.IdempotencyKey = "req-2", "req-2"
		_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{a, b})
		assert.ErrorIs(t, err, domain.ErrDuplicateRequestID)
	})

	t.Run("key longer than the column", func(t *testing.T) {
		long := in(1)
		long.IdempotencyKey = strings.Repeat("k", domain.MaxIdempotencyKeyLength+1)
		_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{long})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	assert.Equal(t, domain.NewStockLevel(10, 0), f.level(t, p.ID))
	assert.Equal(t, int64(1), f.version(t, p.ID))
}

func TestCommit_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P-1", "Pipe 25A", 100)

	_, err := f.stock.Commit(ctx, uuid.New(), []domain.Intent{in(1)})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = f.stock.Commit(ctx, p.ID, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	batch := make([]domain.Intent, domain.MaxBatchSize+1)
	for i := range batch {
		batch[i] = in(1)
	}
	_, err = f.stock.Commit(ctx, p.ID, batch)
	assert.ErrorIs(t, err, domain.ErrValidation)

	res := f.commit(t, p.ID, batch[:domain.MaxBatchSize]...)
	assert.Len(t, res.Entries, domain.MaxBatchSize)

	_, err = f.products.Deactivate(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.stock.Commit(ctx, p.ID, []domain.Intent{in(1)})
	assert.ErrorIs(t, err, domain.ErrProductInactive)
}

func TestCommit_EntriesShareTimestampAndOrder(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	res := f.commit(t, p.ID, in(10), reserve(3), out(2))
	require.Len(t, res.Entries, 3)
	assert.Equal(t, []int64{10, 3, -2}, []int64{res.Entries[0].Delta, res.Entries[1].Delta, res.Entries[2].Delta})
	assert.Equal(t, res.Entries[0].OccurredAt, res.Entries[2].OccurredAt)
}

func TestProject_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.stock.Project(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

// racingStore runs a complete competing commit the first time a unit of work
// projects stock, i.e. after the unit has read the expected head version.
type racingStore struct {
	store.Store
	once  sync.Once
	rival func()
}

func (r *racingStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	uow, err := r.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &racingUnit{UnitOfWork: uow, parent: r}, nil
}

type racingUnit struct {
	store.UnitOfWork
	parent *racingStore
}

func (u *racingUnit) SumByBucket(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	u.parent.once.Do(u.parent.rival)
	return u.UnitOfWork.SumByBucket(ctx, productID)
}

func TestCommit_LostRaceIsConflict(t *testing.T) {
	mem := store.NewMemory()
	setup := newFixtureOn(t, mem)
	p := setup.product(t, "P-1", "Pipe 25A", 100)
	setup.commit(t, p.ID, in(50))

	racing := &racingStore{Store: mem}
	racing.rival = func() {
		_, err := setup.stock.Commit(context.Background(), p.ID, []domain.Intent{reserve(5)})
		require.NoError(t, err)
	}
	loser := NewStockService(racing, logging.Discard())

	_, err := loser.Commit(context.Background(), p.ID, []domain.Intent{in(7)})
	assert.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, domain.NewStockLevel(50, 5), setup.level(t, p.ID))
	assert.Equal(t, int64(2), setup.version(t, p.ID))
}

func TestCommit_ConcurrentCallersOnOneProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P-1", "Pipe 25A", 100)

	const callers = 16
	var (
		wg        sync.WaitGroup
		committed atomic.Int64
		conflicts atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.stock.Commit(context.Background(), p.ID, []domain.Intent{in(1)})
			switch domain.KindOf(err) {
			case "":
				committed.Add(1)
			case domain.KindConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(callers), committed.Load()+conflicts.Load())
	assert.GreaterOrEqual(t, committed.Load(), int64(1))
	assert.Equal(t, committed.Load(), f.version(t, p.ID))
	assert.Equal(t, committed.Load(), f.level(t, p.ID).OnHand)
}

func TestCommit_DifferentProductsAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, "P-1", "Pipe 25A", 100)
	b := f.product(t, "P-2", "Pipe 50A", 100)

	uow, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback(context.Background())
	ok, err := uow.BumpStockHead(context.Background(), a.ID, 0, f.stock.now())
	require.NoError(t, err)
	require.True(t, ok)

	// a's head is held by an open unit; b commits without waiting.
	res := f.commit(t, b.ID, in(3))
	assert.Equal(t, int64(3), res.Stock.OnHand)
}

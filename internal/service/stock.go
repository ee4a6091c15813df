package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/store"
)

// CommitResult is what a successful commit hands back: the entries in
// submission order and the stock level right after them.
type CommitResult struct {
	Entries []domain.LedgerEntry
	Stock   domain.StockLevel
}

// StockService owns the projector and the batch commit engine.
type StockService struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewStockService(s store.Store, log logrus.FieldLogger) *StockService {
	return &StockService{
		store: s,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Project folds the committed ledger of a product into its current stock level.
func (s *StockService) Project(ctx context.Context, productID uuid.UUID) (domain.StockLevel, error) {
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return domain.StockLevel{}, productLookupError(productID, err)
	}
	level, err := s.store.SumByBucket(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("project stock: %w", err)
	}
	return level, nil
}

// Commit validates a batch of intents against the net post-batch state and
// writes all resulting entries plus one stock head bump atomically.
// A lost race surfaces as CONFLICT; the caller decides whether to retry.
func (s *StockService) Commit(ctx context.Context, productID uuid.UUID, intents []domain.Intent) (*CommitResult, error) {
	res, err := s.commit(ctx, productID, intents)
	s.observe(productID, len(intents), err)
	return res, err
}

func (s *StockService) commit(ctx context.Context, productID uuid.UUID, intents []domain.Intent) (*CommitResult, error) {
	if len(intents) < 1 || len(intents) > domain.MaxBatchSize {
		return nil, domain.Validation("a commit takes 1..%d transactions, got %d", domain.MaxBatchSize, len(intents))
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback(ctx)

	product, err := uow.GetProduct(ctx, productID)
	if err != nil {
		return nil, productLookupError(productID, err)
	}
	if !product.Active {
		return nil, domain.ProductInactive(product.Code)
	}

	head, err := uow.GetStockHead(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Conflict("stock head missing for product %s", productID)
	}
	if err != nil {
		return nil, err
	}
	expected := head.Version

	resolved, err := domain.ResolveAll(intents)
	if err != nil {
		return nil, err
	}

	current, err := uow.SumByBucket(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("project stock: %w", err)
	}

	next, err := domain.ApplyNet(current, resolved)
	if err != nil {
		return nil, err
	}

	at := s.now()
	ok, err := uow.BumpStockHead(ctx, productID, expected, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Conflict("optimistic lock conflict on product %s, retry", productID)
	}

	entries := make([]domain.LedgerEntry, len(resolved))
	for i, r := range resolved {
		entries[i] = domain.LedgerEntry{
			ID:             uuid.New(),
			ProductID:      productID,
			Type:           r.Type,
			Bucket:         r.Bucket,
			Delta:          r.Delta,
			Reason:         r.Reason,
			IdempotencyKey: r.IdempotencyKey,
			OccurredAt:     at,
		}
	}

	if err := uow.AppendEntries(ctx, entries); err != nil {
		return nil, writeError(err)
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, writeError(err)
	}

	return &CommitResult{Entries: entries, Stock: next}, nil
}

func (s *StockService) observe(productID uuid.UUID, size int, err error) {
	outcome := "committed"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	commitsTotal.WithLabelValues(outcome).Inc()

	fields := logrus.Fields{"product_id": productID, "batch_size": size, "outcome": outcome}
	switch {
	case err == nil:
		commitBatchSize.Observe(float64(size))
		s.log.WithFields(fields).Debug("stock commit accepted")
	case outcome == "error":
		s.log.WithFields(fields).WithError(err).Error("stock commit failed")
	default:
		s.log.WithFields(fields).Info(err.Error())
	}
}

func productLookupError(id uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.ProductNotFound(id)
	}
	return err
}

func writeError(err error) error {
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		return domain.DuplicateRequestID(err)
	}
	return err
}

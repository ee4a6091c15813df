package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/store"
)

// NewProduct carries the fields accepted on creation.
type NewProduct struct {
	Code         string
	Name         string
	Spec         *string
	Unit         string
	UnitPrice    decimal.Decimal
	UnitWeight   *decimal.Decimal
	ReorderPoint int64
}

// ProductPatch is a partial update. Nil fields are left unchanged; the Clear
// flags reset the nullable fields. Version must equal the stored product version.
type ProductPatch struct {
	Code            *string
	Name            *string
	Spec            *string
	ClearSpec       bool
	Unit            *string
	UnitPrice       *decimal.Decimal
	UnitWeight      *decimal.Decimal
	ClearUnitWeight bool
	ReorderPoint    *int64
	Version         int64
}

// ProductService is the product master-data collaborator. Its version
// counter is independent from the stock head version.
type ProductService struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewProductService(s store.Store, log logrus.FieldLogger) *ProductService {
	return &ProductService{
		store: s,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores the product and seeds its stock head at version 0.
func (s *ProductService) Create(ctx context.Context, in NewProduct) (domain.Product, error) {
	now := s.now()
	p := domain.Product{
		ID:           uuid.New(),
		Code:         in.Code,
		Name:         in.Name,
		Spec:         in.Spec,
		Unit:         in.Unit,
		UnitPrice:    in.UnitPrice,
		UnitWeight:   in.UnitWeight,
		ReorderPoint: in.ReorderPoint,
		Active:       true,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	defer uow.Rollback(ctx)

	if err := uow.InsertProduct(ctx, p); err != nil {
		return domain.Product{}, productWriteError(p.Code, err)
	}
	if err := uow.Commit(ctx); err != nil {
		return domain.Product{}, productWriteError(p.Code, err)
	}

	s.log.WithFields(logrus.Fields{"product_id": p.ID, "code": p.Code}).Info("product created")
	return p, nil
}

func (s *ProductService) Get(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, productLookupError(id, err)
	}
	return p, nil
}

// Update applies a patch guarded by the product's own version.
func (s *ProductService) Update(ctx context.Context, id uuid.UUID, patch ProductPatch) (domain.Product, error) {
	return s.mutate(ctx, id, patch.Version, func(p *domain.Product) {
		if patch.Code != nil {
			p.Code = *patch.Code
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.ClearSpec {
			p.Spec = nil
		} else if patch.Spec != nil {
			p.Spec = patch.Spec
		}
		if patch.Unit != nil {
			p.Unit = *patch.Unit
		}
		if patch.UnitPrice != nil {
			p.UnitPrice = *patch.UnitPrice
		}
		if patch.ClearUnitWeight {
			p.UnitWeight = nil
		} else if patch.UnitWeight != nil {
			p.UnitWeight = patch.UnitWeight
		}
		if patch.ReorderPoint != nil {
			p.ReorderPoint = *patch.ReorderPoint
		}
	})
}

// Deactivate soft-deletes a product. Its ledger stays; new commits are refused.
func (s *ProductService) Deactivate(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return s.mutate(ctx, id, -1, func(p *domain.Product) {
		p.Active = false
	})
}

// mutate loads, changes and conditionally rewrites a product. A negative
// version skips the caller-supplied version check.
func (s *ProductService) mutate(ctx context.Context, id uuid.UUID, version int64, apply func(p *domain.Product)) (domain.Product, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	defer uow.Rollback(ctx)

	p, err := uow.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, productLookupError(id, err)
	}
	if version >= 0 && p.Version != version {
		return domain.Product{}, domain.Conflict("version conflict: current=%d, sent=%d", p.Version, version)
	}

	expected := p.Version
	apply(&p)
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	p.Version = expected + 1
	p.UpdatedAt = s.now()

	ok, err := uow.UpdateProduct(ctx, p, expected)
	if err != nil {
		return domain.Product{}, productWriteError(p.Code, err)
	}
	if !ok {
		return domain.Product{}, domain.Conflict("product %s was modified concurrently, retry", id)
	}
	if err := uow.Commit(ctx); err != nil {
		return domain.Product{}, productWriteError(p.Code, err)
	}
	return p, nil
}

func productWriteError(code string, err error) error {
	if errors.Is(err, store.ErrDuplicateCode) {
		return domain.Validation("product code %q is already in use", code)
	}
	return err
}

package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/stockledger/internal/domain"
)

func TestProductService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.product(t, "VL-100", "Valve Gate", 4000)
	assert.True(t, p.Active)
	assert.Equal(t, int64(1), p.Version)
	assert.Equal(t, int64(0), f.version(t, p.ID))

	got, err := f.products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "VL-100", got.Code)

	_, err = f.products.Create(ctx, NewProduct{Code: "VL-100", Name: "Other", Unit: "pc"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.products.Create(ctx, NewProduct{Code: "", Name: "Nameless", Unit: "pc"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.products.Create(ctx, NewProduct{
		Code: "VL-101", Name: "Valve Ball", Unit: "pc",
		UnitPrice: decimal.RequireFromString("123456789.005"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.products.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "VL-100", "Valve Gate", 4000)

	name := "Valve Ball"
	price := decimal.RequireFromString("4500.50")
	updated, err := f.products.Update(ctx, p.ID, ProductPatch{Name: &name, UnitPrice: &price, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "Valve Ball", updated.Name)
	assert.True(t, price.Equal(updated.UnitPrice))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "VL-100", updated.Code)

	_, err = f.products.Update(ctx, p.ID, ProductPatch{Name: &name, Version: 1})
	assert.ErrorIs(t, err, domain.ErrConflict)

	negative := int64(-1)
	_, err = f.products.Update(ctx, p.ID, ProductPatch{ReorderPoint: &negative, Version: 2})
	assert.ErrorIs(t, err, domain.ErrValidation)

	other := f.product(t, "VL-200", "Valve Check", 1000)
	taken := "VL-100"
	_, err = f.products.Update(ctx, other.ID, ProductPatch{Code: &taken, Version: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	spec := "DN25"
	weight := decimal.RequireFromString("1.5")
	updated, err = f.products.Update(ctx, other.ID, ProductPatch{Spec: &spec, UnitWeight: &weight, Version: 1})
	require.NoError(t, err)
	require.NotNil(t, updated.Spec)
	require.NotNil(t, updated.UnitWeight)

	updated, err = f.products.Update(ctx, other.ID, ProductPatch{ClearSpec: true, Version: 2})
	require.NoError(t, err)
	assert.Nil(t, updated.Spec)
	assert.NotNil(t, updated.UnitWeight)

	updated, err = f.products.Update(ctx, other.ID, ProductPatch{ClearUnitWeight: true, Version: 3})
	require.NoError(t, err)
	assert.Nil(t, updated.UnitWeight)

	_, err = f.products.Update(ctx, uuid.New(), ProductPatch{Version: 1})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductService_Deactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "VL-100", "Valve Gate", 4000)
	f.commit(t, p.ID, in(5))

	gone, err := f.products.Deactivate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, gone.Active)
	assert.Equal(t, int64(2), gone.Version)

	// The ledger survives a soft delete.
	assert.Equal(t, int64(5), f.level(t, p.ID).OnHand)
}

func TestVersionCountersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "VL-100", "Valve Gate", 4000)

	f.commit(t, p.ID, in(10))
	f.commit(t, p.ID, reserve(2))
	got, err := f.products.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "stock commits leave the product version alone")

	name := "Valve Gate DN50"
	_, err = f.products.Update(ctx, p.ID, ProductPatch{Name: &name, Version: 1})
	require.NoError(t, err)
	_, err = f.products.Update(ctx, p.ID, ProductPatch{Name: &name, Version: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.version(t, p.ID), "product edits leave the stock head alone")

	// A stock commit with a stale product version in hand still succeeds.
	f.commit(t, p.ID, in(1))
	assert.Equal(t, int64(3), f.version(t, p.ID))
}

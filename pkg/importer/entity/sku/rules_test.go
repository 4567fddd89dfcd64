package sku_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/entity/sku"
	memorystore "github.com/quayside/groupage/pkg/importer/infrastructure/store/memory"
)

func TestFinalizeGroupCollapsesStockDeltas(t *testing.T) {
	rules := sku.NewRules()
	g := &model.Group{
		BusinessKey: "sku-a",
		Lines: []model.LineIntent{
			{Quantity: 5}, {Quantity: 4}, {Quantity: 3},
		},
	}

	rules.FinalizeGroup(g)

	require.Len(t, g.Lines, 1)
	assert.Equal(t, 12.0, g.Lines[0].Quantity)
}

func TestFinalizeGroupWithoutDeltasWritesParentOnly(t *testing.T) {
	rules := sku.NewRules()
	g := &model.Group{BusinessKey: "sku-a"}

	rules.FinalizeGroup(g)

	assert.Empty(t, g.Lines)
}

func TestValidateHeaderEnforcesNumericRules(t *testing.T) {
	rules := sku.NewRules()

	assert.Empty(t, rules.ValidateHeader(map[string]interface{}{
		"cost": "10.5", "price": "19.99",
	}))

	failures := rules.ValidateHeader(map[string]interface{}{
		"cost": "0", "price": "-3",
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "cost")
	assert.Contains(t, failures[1], "price")

	failures = rules.ValidateHeader(map[string]interface{}{"cost": "not-a-number"})
	require.Len(t, failures, 1)

	// price is optional; only cost is required by the header rules.
	assert.Empty(t, rules.ValidateHeader(map[string]interface{}{"cost": "4"}))
}

func TestPrepareLookupsAutoCreatesUnknownSuppliers(t *testing.T) {
	rules := sku.NewRules()
	st := memorystore.NewStore()
	seeded := st.Repo("suppliers").Seed(map[string]interface{}{"name": "Acme"})
	refs := grouping.NewReferences()

	groups := []*model.Group{
		{BusinessKey: "sku-a", Header: map[string]interface{}{"supplier": "Acme"}},
		{BusinessKey: "sku-b", Header: map[string]interface{}{"supplier": "Globex"}},
		{BusinessKey: "sku-c", Header: map[string]interface{}{"supplier": "Globex"}},
		{BusinessKey: "sku-d", Header: map[string]interface{}{}},
	}

	err := rules.PrepareLookups(context.Background(), groups, refs, st)

	require.NoError(t, err)
	// Acme was reused, Globex created exactly once.
	assert.Equal(t, 2, st.Repo("suppliers").Len())

	id, ok := refs.Resolve("suppliers", "Acme")
	require.True(t, ok)
	assert.Equal(t, seeded.ID, id)
	_, ok = refs.Resolve("suppliers", "Globex")
	assert.True(t, ok)
}

func TestParentFieldsResolveSupplierAndNumbers(t *testing.T) {
	rules := sku.NewRules()
	refs := grouping.NewReferences()
	refs.Add("suppliers", "Acme", "supplier-1")

	g := &model.Group{
		BusinessKey: "sku-a",
		Header: map[string]interface{}{
			"sku_code": "SKU-A",
			"name":     "Widget",
			"cost":     "10.5",
			"price":    "19.99",
			"supplier": "Acme",
		},
	}

	fields := rules.ParentFields(g, refs)

	assert.Equal(t, "SKU-A", fields["code"])
	assert.Equal(t, 10.5, fields["cost"])
	assert.Equal(t, 19.99, fields["price"])
	assert.Equal(t, "supplier-1", fields["supplier_id"])
}

func TestChildFieldsCarrySummedQuantity(t *testing.T) {
	rules := sku.NewRules()

	fields := rules.ChildFields(&model.Group{}, model.LineIntent{Quantity: 12}, "sku-id-1")

	assert.Equal(t, "sku-id-1", fields["sku_id"])
	assert.Equal(t, 12.0, fields["quantity"])
}

func TestBusinessKeyOfNormalizesCode(t *testing.T) {
	rules := sku.NewRules()

	key := rules.BusinessKeyOf(&store.Record{Fields: store.Fields{"code": "  SKU-A "}})
	assert.Equal(t, "sku-a", key)
	assert.Equal(t, "", rules.BusinessKeyOf(&store.Record{Fields: store.Fields{}}))
}

package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/entity/order"
)

func TestResolveLineResolvesSKUCode(t *testing.T) {
	rules := order.NewRules()
	refs := grouping.NewReferences()
	refs.Add("skus", "SKU-A", "sku-id-1")

	line, ok := rules.ResolveLine(model.Row{Fields: map[string]string{
		"sku_code": "sku-a", // resolution is case-insensitive
		"quantity": "2.5",
	}}, refs)

	require.True(t, ok)
	assert.Equal(t, "sku-id-1", line.RefID)
	assert.Equal(t, "sku-a", line.RefCode)
	assert.Equal(t, 2.5, line.Quantity)
}

func TestResolveLineDropsUnknownCode(t *testing.T) {
	rules := order.NewRules()
	refs := grouping.NewReferences()

	_, ok := rules.ResolveLine(model.Row{Fields: map[string]string{
		"sku_code": "SKU-Z",
		"quantity": "1",
	}}, refs)
	assert.False(t, ok)

	_, ok = rules.ResolveLine(model.Row{Fields: map[string]string{
		"quantity": "1",
	}}, refs)
	assert.False(t, ok)
}

func TestValidateLineRejectsNonPositiveQuantity(t *testing.T) {
	rules := order.NewRules()

	assert.Empty(t, rules.ValidateLine(model.LineIntent{RefID: "id", Quantity: 1}))

	failures := rules.ValidateLine(model.LineIntent{RefID: "id", RefCode: "SKU-A", Quantity: 0})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "non-positive quantity")

	failures = rules.ValidateLine(model.LineIntent{RefCode: "SKU-A", Quantity: -1})
	assert.Len(t, failures, 2)
}

func TestParentFieldsIncludeBusinessKeyAndOptionals(t *testing.T) {
	rules := order.NewRules()
	g := &model.Group{
		BusinessKey: "1|1001",
		Header: map[string]interface{}{
			"store_id":   "1",
			"order_id":   "1001",
			"order_date": "2026-01-15",
			"customer":   "Ada",
		},
	}

	fields := rules.ParentFields(g, grouping.NewReferences())

	assert.Equal(t, "1|1001", fields["business_key"])
	assert.Equal(t, "2026-01-15", fields["order_date"])
	assert.Equal(t, "Ada", fields["customer"])
	_, hasNote := fields["note"]
	assert.False(t, hasNote)
}

func TestChildFieldsLinkLineToParent(t *testing.T) {
	rules := order.NewRules()
	line := model.LineIntent{RefID: "sku-id-1", Quantity: 3}

	fields := rules.ChildFields(&model.Group{}, line, "parent-1")

	assert.Equal(t, "parent-1", fields["order_id"])
	assert.Equal(t, "sku-id-1", fields["sku_id"])
	assert.Equal(t, 3.0, fields["quantity"])
}

func TestBusinessKeyOfExistingRecords(t *testing.T) {
	rules := order.NewRules()

	// Records written by the engine carry the key directly.
	key := rules.BusinessKeyOf(&store.Record{Fields: store.Fields{"business_key": "1|1001"}})
	assert.Equal(t, "1|1001", key)

	// Records that predate the engine are reconstructed from their fields.
	key = rules.BusinessKeyOf(&store.Record{Fields: store.Fields{
		"store_id": " 1 ",
		"order_id": "A-100",
	}})
	assert.Equal(t, "1|a-100", key)

	assert.Equal(t, "", rules.BusinessKeyOf(&store.Record{Fields: store.Fields{}}))
}

// Package grouping_test provides unit tests for row grouping and key
// normalization.
package grouping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/entity/order"
	"github.com/quayside/groupage/pkg/importer/entity/sku"
)

func orderRow(number int, fields map[string]string) model.Row {
	return model.Row{Number: number, Fields: fields}
}

func newOrderRefs() *grouping.References {
	refs := grouping.NewReferences()
	refs.Add("skus", "X", "sku-x")
	refs.Add("skus", "Y", "sku-y")
	return refs
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "a1", grouping.NormalizeKey("  A1 "))
	assert.Equal(t, "a 1", grouping.NormalizeKey("A \t 1"))
	assert.Equal(t, "a1", grouping.NormalizeKey("A​1"), "zero-width characters are stripped")
	assert.Equal(t, "", grouping.NormalizeKey("   "))
}

func TestGroupRows_MultiLineOrder(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "A1", "order_date": "2026-01-15", "sku_code": "X", "quantity": "2"}),
		orderRow(2, map[string]string{"store_id": "1", "order_id": "A1", "order_date": "2026-01-15", "sku_code": "Y", "quantity": "1"}),
	}

	set := grouping.NewGrouper(order.NewRules(), newOrderRefs()).GroupRows(rows)

	require.Equal(t, 1, set.Len())
	g, ok := set.Get("1|a1")
	require.True(t, ok)
	assert.Len(t, g.Lines, 2)
	assert.Len(t, g.SourceRows, 2)
	assert.Equal(t, "sku-x", g.Lines[0].RefID)
	assert.Equal(t, 2.0, g.Lines[0].Quantity)
}

func TestGroupRows_KeyNormalizationMergesGroups(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "A1 ", "sku_code": "X", "quantity": "1"}),
		orderRow(2, map[string]string{"store_id": "1", "order_id": " a1", "sku_code": "Y", "quantity": "1"}),
	}

	set := grouping.NewGrouper(order.NewRules(), newOrderRefs()).GroupRows(rows)

	assert.Equal(t, 1, set.Len(), "case and whitespace variations of the key must map to one group")
}

func TestGroupRows_FirstSeenOrderIsDeterministic(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "B2", "sku_code": "X", "quantity": "1"}),
		orderRow(2, map[string]string{"store_id": "1", "order_id": "A1", "sku_code": "X", "quantity": "1"}),
		orderRow(3, map[string]string{"store_id": "1", "order_id": "B2", "sku_code": "Y", "quantity": "1"}),
	}

	grouper := grouping.NewGrouper(order.NewRules(), newOrderRefs())
	first := grouper.GroupRows(rows)
	second := grouper.GroupRows(rows)

	assert.Equal(t, []string{"1|b2", "1|a1"}, first.Keys())
	assert.Equal(t, first.Keys(), second.Keys(), "grouping the same input twice must yield the same order")
}

func TestGroupRows_UnresolvableReferenceKeepsSourceRow(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "A1", "sku_code": "X", "quantity": "1"}),
		orderRow(2, map[string]string{"store_id": "1", "order_id": "A1", "sku_code": "UNKNOWN", "quantity": "3"}),
	}

	set := grouping.NewGrouper(order.NewRules(), newOrderRefs()).GroupRows(rows)

	g, ok := set.Get("1|a1")
	require.True(t, ok)
	assert.Len(t, g.Lines, 1, "the unknown SKU contributes no line")
	assert.Len(t, g.SourceRows, 2, "the row is still retained for error reporting")
}

func TestGroupRows_HeaderAggregationModes(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "A1", "customer": "Ada", "sku_code": "X", "quantity": "1"}),
		orderRow(2, map[string]string{"store_id": "9", "order_id": "A1", "customer": "Grace", "sku_code": "Y", "quantity": "1"}),
	}

	set := grouping.NewGrouper(order.NewRules(), newOrderRefs()).GroupRows(rows)

	// Both rows normalize to different keys (store differs), so take the first.
	g, ok := set.Get("1|a1")
	require.True(t, ok)
	assert.Equal(t, "1", g.Header["store_id"], "identity fields are set once")
	assert.Equal(t, "Ada", g.Header["customer"])
}

func TestGroupRows_LastWinsOverwritesHeader(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"store_id": "1", "order_id": "A1", "customer": "Ada", "sku_code": "X", "quantity": "1"}),
		orderRow(2, map[string]string{"store_id": "1", "order_id": "A1", "customer": "Grace", "sku_code": "Y", "quantity": "1"}),
		orderRow(3, map[string]string{"store_id": "1", "order_id": "A1", "customer": "", "sku_code": "X", "quantity": "1"}),
	}

	set := grouping.NewGrouper(order.NewRules(), newOrderRefs()).GroupRows(rows)

	g, ok := set.Get("1|a1")
	require.True(t, ok)
	assert.Equal(t, "Grace", g.Header["customer"], "last non-empty value wins")
}

func TestGroupRows_SumAccumulatorAndFinalizer(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"sku_code": "S1", "name": "Widget", "cost": "2.5", "stock_qty": "5"}),
		orderRow(2, map[string]string{"sku_code": "S1", "name": "Widget", "cost": "2.5", "stock_qty": "7"}),
	}

	set := grouping.NewGrouper(sku.NewRules(), grouping.NewReferences()).GroupRows(rows)

	g, ok := set.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 12.0, g.Header["stock_qty"])
	require.Len(t, g.Lines, 1, "per-row deltas collapse into one stock line")
	assert.Equal(t, 12.0, g.Lines[0].Quantity)
}

func TestGroupRows_UnparsableAccumulatorIsFlagged(t *testing.T) {
	rows := []model.Row{
		orderRow(1, map[string]string{"sku_code": "S1", "name": "Widget", "cost": "2.5", "stock_qty": "not-a-number"}),
	}

	set := grouping.NewGrouper(sku.NewRules(), grouping.NewReferences()).GroupRows(rows)

	g, ok := set.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "not-a-number", g.Header["stock_qty_invalid"], "bad accumulator values surface in validation, not as zero")
}

func TestReferences_ResolveNormalizesCodes(t *testing.T) {
	refs := grouping.NewReferences()
	refs.Add("skus", "ABC-1", "id-1")

	id, ok := refs.Resolve("skus", "  abc-1 ")
	require.True(t, ok)
	assert.Equal(t, "id-1", id)

	_, ok = refs.Resolve("skus", "missing")
	assert.False(t, ok)
	_, ok = refs.Resolve("unknown_kind", "abc-1")
	assert.False(t, ok)
}

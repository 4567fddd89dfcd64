// Package order supplies the grouping and write rules for multi-line order
// imports. One group is one order: the parent record lands in "orders" and
// every row with a resolvable SKU code contributes one "order_lines" child.
package order

import (
	"fmt"
	"strconv"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
)

// EntityKind is the rule-set name orders are imported under.
const EntityKind = "order"

// Rules implements grouping.RuleSet for order imports.
type Rules struct{}

var _ grouping.RuleSet = (*Rules)(nil)

// NewRules creates the order rule set.
func NewRules() *Rules {
	return &Rules{}
}

func (r *Rules) Kind() string        { return EntityKind }
func (r *Rules) DisplayName() string { return "Order" }
func (r *Rules) ParentKind() string  { return "orders" }
func (r *Rules) ChildKind() string   { return "order_lines" }

// KeyFields composes the business key from the store and the order number;
// order numbers are only unique within one store.
func (r *Rules) KeyFields() []string { return []string{"store_id", "order_id"} }

func (r *Rules) HeaderFields() map[string]grouping.AggregationMode {
	return map[string]grouping.AggregationMode{
		"store_id":   grouping.AggregateSetOnce,
		"order_id":   grouping.AggregateSetOnce,
		"customer":   grouping.AggregateLastWins,
		"order_date": grouping.AggregateLastWins,
		"note":       grouping.AggregateLastWins,
	}
}

func (r *Rules) RequiredHeaderFields() []string {
	return []string{"store_id", "order_id", "order_date"}
}

func (r *Rules) DateFields() []string { return []string{"order_date"} }

// RequiresLines reports that an order without a single resolvable line is
// rejected; a header-only order cannot be fulfilled.
func (r *Rules) RequiresLines() bool { return true }

func (r *Rules) ReferenceKinds() []grouping.ReferenceKind {
	return []grouping.ReferenceKind{{Kind: "skus", CodeField: "code"}}
}

func (r *Rules) DefaultWaveSize() int { return 5 }

// ResolveLine turns one input row into an order line. The row's SKU code must
// resolve against the pre-loaded SKU reference table; rows with unknown codes
// contribute no line.
func (r *Rules) ResolveLine(row model.Row, refs *grouping.References) (model.LineIntent, bool) {
	code := row.Get("sku_code")
	if code == "" {
		return model.LineIntent{}, false
	}
	id, ok := refs.Resolve("skus", code)
	if !ok {
		return model.LineIntent{}, false
	}

	qty, err := strconv.ParseFloat(row.Get("quantity"), 64)
	if err != nil {
		qty = 0
	}
	return model.LineIntent{RefID: id, RefCode: code, Quantity: qty}, true
}

func (r *Rules) ValidateLine(line model.LineIntent) []string {
	var failures []string
	if line.RefID == "" {
		failures = append(failures, fmt.Sprintf("line for SKU '%s' has no resolved reference", line.RefCode))
	}
	if line.Quantity <= 0 {
		failures = append(failures, fmt.Sprintf("line for SKU '%s' has non-positive quantity %v", line.RefCode, line.Quantity))
	}
	return failures
}

// ValidateHeader has no order-specific business rules beyond the generic
// required-field and date checks.
func (r *Rules) ValidateHeader(header map[string]interface{}) []string {
	return nil
}

func (r *Rules) ParentFields(g *model.Group, refs *grouping.References) store.Fields {
	fields := store.Fields{
		"business_key": g.BusinessKey,
		"store_id":     g.Header["store_id"],
		"order_id":     g.Header["order_id"],
		"order_date":   g.Header["order_date"],
	}
	if v, ok := g.Header["customer"]; ok {
		fields["customer"] = v
	}
	if v, ok := g.Header["note"]; ok {
		fields["note"] = v
	}
	return fields
}

func (r *Rules) ChildFields(g *model.Group, line model.LineIntent, parentID string) store.Fields {
	return store.Fields{
		"order_id": parentID,
		"sku_id":   line.RefID,
		"quantity": line.Quantity,
	}
}

// BusinessKeyOf reads the key stored on the parent record at write time, so
// existing-key pre-loading survives raw records that predate the engine.
func (r *Rules) BusinessKeyOf(rec *store.Record) string {
	if v, ok := rec.Fields["business_key"].(string); ok {
		return v
	}
	storeID, _ := rec.Fields["store_id"].(string)
	orderID, _ := rec.Fields["order_id"].(string)
	if storeID == "" && orderID == "" {
		return ""
	}
	return grouping.NormalizeKey(storeID) + "|" + grouping.NormalizeKey(orderID)
}

// Package sku supplies the grouping and write rules for SKU/inventory
// imports. One group is one SKU: the parent record lands in "skus" and the
// per-row stock deltas are summed into a single "stock_levels" child. Supplier
// names are resolved against a supplier cache; unknown suppliers are created
// in a pre-pass before any wave is scheduled, because groups in the same wave
// may reference the same not-yet-created supplier concurrently.
package sku

import (
	"context"
	"fmt"
	"math"
	"strconv"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/store"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/support/util/exception"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// EntityKind is the rule-set name SKUs are imported under.
const EntityKind = "sku"

const supplierKind = "suppliers"

// Rules implements grouping.RuleSet for SKU imports, plus the GroupFinalizer
// and LookupPreparer extensions.
type Rules struct{}

var (
	_ grouping.RuleSet        = (*Rules)(nil)
	_ grouping.GroupFinalizer = (*Rules)(nil)
	_ grouping.LookupPreparer = (*Rules)(nil)
)

// NewRules creates the SKU rule set.
func NewRules() *Rules {
	return &Rules{}
}

func (r *Rules) Kind() string        { return EntityKind }
func (r *Rules) DisplayName() string { return "SKU" }
func (r *Rules) ParentKind() string  { return "skus" }
func (r *Rules) ChildKind() string   { return "stock_levels" }

func (r *Rules) KeyFields() []string { return []string{"sku_code"} }

func (r *Rules) HeaderFields() map[string]grouping.AggregationMode {
	return map[string]grouping.AggregationMode{
		"sku_code":    grouping.AggregateSetOnce,
		"name":        grouping.AggregateLastWins,
		"supplier":    grouping.AggregateLastWins,
		"cost":        grouping.AggregateLastWins,
		"price":       grouping.AggregateLastWins,
		"received_at": grouping.AggregateLastWins,
		"stock_qty":   grouping.AggregateSum,
	}
}

func (r *Rules) RequiredHeaderFields() []string {
	return []string{"sku_code", "name", "cost"}
}

func (r *Rules) DateFields() []string { return []string{"received_at"} }

// RequiresLines is false: a SKU row without any stock delta is still a valid
// catalog entry; the stock line is synthesized only when deltas were seen.
func (r *Rules) RequiresLines() bool { return false }

// ReferenceKinds is empty: the supplier cache is loaded and extended by
// PrepareLookups, not pre-loaded by the runner's generic reference pass,
// because unknown suppliers must be created rather than merely looked up.
func (r *Rules) ReferenceKinds() []grouping.ReferenceKind { return nil }

func (r *Rules) DefaultWaveSize() int { return 10 }

// ResolveLine contributes one per-row stock delta. The deltas are collapsed
// into a single summed line by FinalizeGroup.
func (r *Rules) ResolveLine(row model.Row, refs *grouping.References) (model.LineIntent, bool) {
	raw := row.Get("stock_qty")
	if raw == "" {
		return model.LineIntent{}, false
	}
	qty, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.LineIntent{}, false
	}
	return model.LineIntent{Quantity: qty}, true
}

// ValidateLine checks the collapsed stock line. The line has no foreign key
// to resolve; its parent id is assigned at write time.
func (r *Rules) ValidateLine(line model.LineIntent) []string {
	if line.Quantity <= 0 {
		return []string{fmt.Sprintf("accumulated stock quantity %v is not positive", line.Quantity)}
	}
	return nil
}

// ValidateHeader enforces the numeric business rules: cost must be a finite
// positive number, and price, when present, must be positive as well.
func (r *Rules) ValidateHeader(header map[string]interface{}) []string {
	var failures []string
	if raw, ok := header["cost"]; ok {
		cost, err := parseNumber(raw)
		if err != nil || math.IsInf(cost, 0) || math.IsNaN(cost) || cost <= 0 {
			failures = append(failures, fmt.Sprintf("cost '%v' must be a finite number greater than zero", raw))
		}
	}
	if raw, ok := header["price"]; ok {
		price, err := parseNumber(raw)
		if err != nil || math.IsInf(price, 0) || math.IsNaN(price) || price <= 0 {
			failures = append(failures, fmt.Sprintf("price '%v' must be a finite number greater than zero", raw))
		}
	}
	return failures
}

// FinalizeGroup collapses the per-row stock deltas into at most one summed
// stock line. With no deltas the group writes a parent record only.
func (r *Rules) FinalizeGroup(g *model.Group) {
	if len(g.Lines) == 0 {
		return
	}
	var total float64
	for _, line := range g.Lines {
		total += line.Quantity
	}
	g.Lines = []model.LineIntent{{Quantity: total}}
}

// PrepareLookups loads the supplier cache and creates every supplier named by
// the groups that is not yet in the store. Running this before scheduling
// keeps the reference set read-only during the concurrent waves.
func (r *Rules) PrepareLookups(ctx context.Context, groups []*model.Group, refs *grouping.References, st store.RecordStore) error {
	suppliers, err := st.Repository(supplierKind)
	if err != nil {
		return exception.NewWriteError("sku", fmt.Sprintf("no repository for '%s': %v", supplierKind, err), err)
	}

	existing, err := suppliers.Filter(ctx, nil)
	if err != nil {
		return exception.NewTransientError("sku", fmt.Sprintf("failed to load suppliers: %v", err), err)
	}
	for _, rec := range existing {
		if name, ok := rec.Fields["name"].(string); ok && name != "" {
			refs.Add(supplierKind, name, rec.ID)
		}
	}

	for _, g := range groups {
		name, _ := g.Header["supplier"].(string)
		if name == "" {
			continue
		}
		if _, ok := refs.Resolve(supplierKind, name); ok {
			continue
		}
		rec, err := suppliers.Create(ctx, store.Fields{"name": name})
		if err != nil {
			return exception.NewWriteError("sku", fmt.Sprintf("failed to auto-create supplier '%s': %v", name, err), err)
		}
		refs.Add(supplierKind, name, rec.ID)
		logger.Infof("Auto-created supplier '%s' (id %s).", name, rec.ID)
	}
	return nil
}

func (r *Rules) ParentFields(g *model.Group, refs *grouping.References) store.Fields {
	fields := store.Fields{
		"code": g.Header["sku_code"],
		"name": g.Header["name"],
	}
	if cost, err := parseNumber(g.Header["cost"]); err == nil {
		fields["cost"] = cost
	}
	if raw, ok := g.Header["price"]; ok {
		if price, err := parseNumber(raw); err == nil {
			fields["price"] = price
		}
	}
	if name, _ := g.Header["supplier"].(string); name != "" {
		if id, ok := refs.Resolve(supplierKind, name); ok {
			fields["supplier_id"] = id
		}
	}
	if v, ok := g.Header["received_at"]; ok {
		fields["received_at"] = v
	}
	return fields
}

func (r *Rules) ChildFields(g *model.Group, line model.LineIntent, parentID string) store.Fields {
	return store.Fields{
		"sku_id":   parentID,
		"quantity": line.Quantity,
	}
}

// BusinessKeyOf normalizes the code stored on an existing SKU record.
func (r *Rules) BusinessKeyOf(rec *store.Record) string {
	code, _ := rec.Fields["code"].(string)
	return grouping.NormalizeKey(code)
}

// parseNumber accepts both the string values produced by header folding and
// the float64 values produced by accumulators.
func parseNumber(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("value '%v' is not numeric", raw)
	}
}

// Package grouping partitions flat input rows into logical entity groups and
// validates each group before any write is attempted. The aggregation and
// validation rules differ per entity kind and are supplied through the RuleSet
// interface; the folding and validation machinery itself is generic.
package grouping

import (
	"context"
	"strings"
	"sync"
	"unicode"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/core/store"
)

// AggregationMode declares how repeated values of one header field are folded
// across the rows of a group.
type AggregationMode int

const (
	// AggregateLastWins keeps the last non-empty value seen.
	AggregateLastWins AggregationMode = iota
	// AggregateSetOnce keeps the first non-empty value and ignores later ones,
	// used for the fields that establish parent identity.
	AggregateSetOnce
	// AggregateSum parses values as numbers and accumulates them,
	// used for inventory deltas.
	AggregateSum
)

// ReferenceKind names an entity kind whose records are pre-loaded into the
// reference set before grouping, keyed by the given code field.
type ReferenceKind struct {
	Kind      string
	CodeField string
}

// RuleSet supplies the entity-kind-specific rules the generic grouping,
// validation and write machinery is parameterized with.
type RuleSet interface {
	// Kind is the short rule-set name ("order", "sku").
	Kind() string
	// DisplayName is the capitalized name used in validation messages.
	DisplayName() string
	// ParentKind is the store entity kind of the parent record.
	ParentKind() string
	// ChildKind is the store entity kind of the child records.
	ChildKind() string
	// KeyFields are the row fields whose normalized values compose the business key.
	KeyFields() []string
	// HeaderFields maps each aggregated header field to its aggregation mode.
	HeaderFields() map[string]AggregationMode
	// RequiredHeaderFields lists header fields that must be present after folding.
	RequiredHeaderFields() []string
	// DateFields lists header fields that must match the exact ISO date format.
	DateFields() []string
	// RequiresLines reports whether a group without any valid line is invalid.
	RequiresLines() bool
	// ReferenceKinds lists the lookup tables to pre-load before grouping.
	ReferenceKinds() []ReferenceKind
	// DefaultWaveSize is the bounded concurrency used when none is configured.
	DefaultWaveSize() int

	// ResolveLine builds the line intent contributed by one row. ok is false
	// when the row's primary reference cannot be resolved; such a row
	// contributes no line but stays in the group's source rows.
	ResolveLine(row model.Row, refs *References) (line model.LineIntent, ok bool)
	// ValidateLine returns the validation failures of one resolved line.
	ValidateLine(line model.LineIntent) []string
	// ValidateHeader returns entity-specific business-rule failures of the folded header.
	ValidateHeader(header map[string]interface{}) []string

	// ParentFields maps the folded group onto the parent record's store fields.
	ParentFields(g *model.Group, refs *References) store.Fields
	// ChildFields maps one line onto a child record's store fields, tagged with
	// the parent's newly assigned id.
	ChildFields(g *model.Group, line model.LineIntent, parentID string) store.Fields
	// BusinessKeyOf extracts the normalized business key from an existing parent
	// record, used to pre-load the existing-keys set.
	BusinessKeyOf(rec *store.Record) string
}

// GroupFinalizer is an optional RuleSet extension invoked after all rows of a
// group have been folded, letting a rule set collapse or reshape the line list
// (e.g., merging per-row inventory deltas into one stock line).
type GroupFinalizer interface {
	FinalizeGroup(g *model.Group)
}

// LookupPreparer is an optional RuleSet extension that resolves or creates
// shared lookup entities (e.g., suppliers) in a pre-pass before any group is
// written. Creating them lazily inside the per-group processor would race
// within a wave, so all creation happens here, before scheduling starts.
type LookupPreparer interface {
	PrepareLookups(ctx context.Context, groups []*model.Group, refs *References, st store.RecordStore) error
}

// References is the pre-loaded lookup cache mapping normalized codes to store
// record ids, per entity kind. It is read-only during the grouped writes; the
// only mutation path is the LookupPreparer pre-pass, which runs before any
// wave is scheduled.
type References struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
}

// NewReferences creates an empty reference set.
func NewReferences() *References {
	return &References{tables: make(map[string]map[string]string)}
}

// Add registers a code-to-id mapping under the given entity kind.
// The code is normalized the same way business keys are.
func (r *References) Add(kind, code, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.tables[kind]
	if !ok {
		table = make(map[string]string)
		r.tables[kind] = table
	}
	table[NormalizeKey(code)] = id
}

// Resolve looks up the id registered for a code under the given entity kind.
func (r *References) Resolve(kind, code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[kind]
	if !ok {
		return "", false
	}
	id, ok := table[NormalizeKey(code)]
	return id, ok
}

// Len returns the number of codes registered under the given entity kind.
func (r *References) Len(kind string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables[kind])
}

// NormalizeKey canonicalizes one business key component: lowercase, trimmed,
// zero-width and other format characters stripped, internal whitespace runs
// collapsed to a single space. Two rows differing only by case or incidental
// whitespace must map to the same group.
func NormalizeKey(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

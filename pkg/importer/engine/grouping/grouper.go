package grouping

import (
	"strconv"
	"strings"

	model "github.com/quayside/groupage/pkg/importer/core/domain/model"
	"github.com/quayside/groupage/pkg/importer/support/util/logger"
)

// GroupSet is an ordered collection of groups. Iteration order is first-seen
// order of the business key, which keeps progress reporting deterministic for
// a given input file.
type GroupSet struct {
	keys   []string
	groups map[string]*model.Group
}

// Len returns the number of groups.
func (s *GroupSet) Len() int {
	return len(s.keys)
}

// Keys returns the business keys in first-seen order.
func (s *GroupSet) Keys() []string {
	return s.keys
}

// Get returns the group for a business key.
func (s *GroupSet) Get(key string) (*model.Group, bool) {
	g, ok := s.groups[key]
	return g, ok
}

// Ordered returns the groups in first-seen order.
func (s *GroupSet) Ordered() []*model.Group {
	out := make([]*model.Group, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.groups[k])
	}
	return out
}

// Grouper folds flat input rows into groups according to a rule set.
type Grouper struct {
	rules RuleSet
	refs  *References
}

// NewGrouper creates a Grouper for the given rule set and pre-loaded references.
func NewGrouper(rules RuleSet, refs *References) *Grouper {
	return &Grouper{rules: rules, refs: refs}
}

// GroupRows partitions the rows into groups by normalized business key and
// applies the rule set's per-field aggregation. A row whose primary reference
// cannot be resolved contributes no line but is retained in the group's source
// rows for error reporting; it never aborts grouping of the rest of the input.
func (g *Grouper) GroupRows(rows []model.Row) *GroupSet {
	set := &GroupSet{groups: make(map[string]*model.Group)}

	for _, row := range rows {
		key := g.businessKey(row)

		group, ok := set.groups[key]
		if !ok {
			group = &model.Group{
				BusinessKey: key,
				Header:      make(map[string]interface{}),
			}
			set.groups[key] = group
			set.keys = append(set.keys, key)
		}

		g.foldHeader(group, row)

		if line, ok := g.rules.ResolveLine(row, g.refs); ok {
			group.Lines = append(group.Lines, line)
		} else {
			logger.Debugf("Row %d of group '%s' has an unresolvable reference; dropped from line list.", row.Number, key)
		}

		group.SourceRows = append(group.SourceRows, row)
	}

	if finalizer, ok := g.rules.(GroupFinalizer); ok {
		for _, group := range set.groups {
			finalizer.FinalizeGroup(group)
		}
	}

	return set
}

// businessKey joins the normalized key field values with "|".
func (g *Grouper) businessKey(row model.Row) string {
	parts := make([]string, 0, len(g.rules.KeyFields()))
	for _, f := range g.rules.KeyFields() {
		parts = append(parts, NormalizeKey(row.Get(f)))
	}
	return strings.Join(parts, "|")
}

// foldHeader applies the per-field aggregation mode of each header field.
func (g *Grouper) foldHeader(group *model.Group, row model.Row) {
	for field, mode := range g.rules.HeaderFields() {
		value := strings.TrimSpace(row.Get(field))
		switch mode {
		case AggregateLastWins:
			if value != "" {
				group.Header[field] = value
			}
		case AggregateSetOnce:
			if _, exists := group.Header[field]; !exists && value != "" {
				group.Header[field] = value
			}
		case AggregateSum:
			if value == "" {
				continue
			}
			delta, err := strconv.ParseFloat(value, 64)
			if err != nil {
				// Unparsable accumulator values are surfaced by validation,
				// not silently treated as zero.
				group.Header[field+"_invalid"] = value
				continue
			}
			current, _ := group.Header[field].(float64)
			group.Header[field] = current + delta
		}
	}
}

// Package expand resolves linked-record fields into denormalized,
// display-ready references.
package expand

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harborview/lp-portal-sync/internal/airtable"
)

// displayNameCandidates is the priority order for choosing a linked record's
// display name.
var displayNameCandidates = []string{"Name", "Full Name", "Company", "Email"}

// Ref is the denormalized form of one linked-record entry. Error marks a
// reference whose target could not be resolved (broken link, fetch failure);
// the rest of the row is still served.
type Ref struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Error       bool           `json:"error,omitempty"`
}

// Store is the subset of the Airtable client the expander needs.
type Store interface {
	FindByIDs(ctx context.Context, table string, ids []string) (map[string]airtable.Record, error)
}

// Expander replaces configured linked-reference fields with []Ref values.
// Links maps a field name on the primary table to the foreign table it
// points into.
type Expander struct {
	store Store
	links map[string]string
}

// New creates an expander over the given link configuration.
func New(store Store, links map[string]string) *Expander {
	return &Expander{store: store, links: links}
}

// ExpandAll denormalizes every configured linked field across the whole input
// set. All referenced IDs are collected into one deduplicated set per foreign
// table first, so a foreign row referenced by 500 input rows is fetched once.
// Foreign-table lookups run concurrently, paced by the client's shared
// limiter. A foreign table that fails to fetch degrades its references to
// error placeholders instead of failing the batch.
func (e *Expander) ExpandAll(ctx context.Context, records []airtable.Record) ([]airtable.Record, error) {
	// Pass 1: collect per-foreign-table ID sets across all rows.
	wanted := make(map[string][]string)
	for _, rec := range records {
		for field, table := range e.links {
			wanted[table] = append(wanted[table], airtable.LinkedIDs(rec.Fields[field])...)
		}
	}

	resolved := make(map[string]map[string]airtable.Record, len(wanted))
	var g errgroup.Group
	var mu sync.Mutex
	for table, ids := range wanted {
		if len(ids) == 0 {
			continue
		}
		table, ids := table, ids
		g.Go(func() error {
			found, err := e.store.FindByIDs(ctx, table, ids)
			if err != nil {
				// Degrade: references into this table become error
				// placeholders below.
				found = map[string]airtable.Record{}
			}
			mu.Lock()
			resolved[table] = found
			mu.Unlock()
			return nil
		})
	}
	// Lookups never return an error; a failed table degrades below.
	_ = g.Wait()

	// Pass 2: substitute references through the lookup results.
	out := make([]airtable.Record, len(records))
	for i, rec := range records {
		expanded := rec.Clone()
		for field, table := range e.links {
			ids := airtable.LinkedIDs(rec.Fields[field])
			if len(ids) == 0 {
				continue
			}
			refs := make([]Ref, len(ids))
			for j, id := range ids {
				if foreign, ok := resolved[table][id]; ok {
					refs[j] = Ref{ID: id, DisplayName: DisplayName(foreign.Fields, id), Fields: foreign.Fields}
				} else {
					refs[j] = Ref{ID: id, Error: true}
				}
			}
			expanded.Fields[field] = refs
		}
		out[i] = expanded
	}
	return out, nil
}

// Expand denormalizes a single record.
func (e *Expander) Expand(ctx context.Context, rec airtable.Record) (airtable.Record, error) {
	out, err := e.ExpandAll(ctx, []airtable.Record{rec})
	if err != nil {
		return airtable.Record{}, err
	}
	return out[0], nil
}

// DisplayName picks a human-readable label for a linked record: the first
// populated candidate field, then the alphabetically-first string field, then
// the raw ID.
func DisplayName(fields map[string]any, fallbackID string) string {
	for _, candidate := range displayNameCandidates {
		if s, ok := fields[candidate].(string); ok && s != "" {
			return s
		}
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s, ok := fields[name].(string); ok && s != "" {
			return s
		}
	}
	return fallbackID
}

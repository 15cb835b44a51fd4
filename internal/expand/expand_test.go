package expand

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/harborview/lp-portal-sync/internal/airtable"
)

// fakeStore is a deterministic Store double that records every lookup.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]map[string]airtable.Record // table -> id -> record
	calls   map[string][][]string                 // table -> id sets per call
	fail    map[string]bool                       // tables whose fetches error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]map[string]airtable.Record{},
		calls:   map[string][][]string{},
		fail:    map[string]bool{},
	}
}

func (s *fakeStore) add(table string, rec airtable.Record) {
	if s.records[table] == nil {
		s.records[table] = map[string]airtable.Record{}
	}
	s.records[table][rec.ID] = rec
}

func (s *fakeStore) FindByIDs(ctx context.Context, table string, ids []string) (map[string]airtable.Record, error) {
	s.mu.Lock()
	s.calls[table] = append(s.calls[table], append([]string(nil), ids...))
	s.mu.Unlock()
	if s.fail[table] {
		return nil, errors.New("table unavailable")
	}
	found := map[string]airtable.Record{}
	for _, id := range ids {
		if rec, ok := s.records[table][id]; ok {
			found[id] = rec
		}
	}
	return found, nil
}

var testLinks = map[string]string{
	"Investor":  "Investors",
	"Deal Lead": "Team Members",
}

func TestExpandAllFetchesEachForeignTableOnce(t *testing.T) {
	store := newFakeStore()
	store.add("Investors", airtable.Record{ID: "recINV1", Fields: map[string]any{"Name": "Blue Harbor LP"}})
	store.add("Investors", airtable.Record{ID: "recINV2", Fields: map[string]any{"Name": "Crestline Fund"}})
	store.add("Team Members", airtable.Record{ID: "recTM1", Fields: map[string]any{"Full Name": "Dana Ortiz"}})

	// 500 rows all referencing the same two investors and one lead
	var rows []airtable.Record
	for i := 0; i < 500; i++ {
		rows = append(rows, airtable.Record{
			ID: fmt.Sprintf("rec%04d", i),
			Fields: map[string]any{
				"Investor":  []any{"recINV1", "recINV2"},
				"Deal Lead": []any{"recTM1"},
			},
		})
	}

	expander := New(store, testLinks)
	out, err := expander.ExpandAll(context.Background(), rows)
	if err != nil {
		t.Fatalf("ExpandAll() error = %v", err)
	}
	if len(out) != 500 {
		t.Fatalf("got %d rows, want 500", len(out))
	}

	// The dedup-before-batch optimization: one lookup per foreign table,
	// regardless of how many rows reference it.
	if n := len(store.calls["Investors"]); n != 1 {
		t.Errorf("Investors fetched %d times, want 1", n)
	}
	if n := len(store.calls["Team Members"]); n != 1 {
		t.Errorf("Team Members fetched %d times, want 1", n)
	}

	refs, ok := out[0].Fields["Investor"].([]Ref)
	if !ok {
		t.Fatalf("Investor field = %T, want []Ref", out[0].Fields["Investor"])
	}
	if refs[0].DisplayName != "Blue Harbor LP" {
		t.Errorf("refs[0].DisplayName = %q, want Blue Harbor LP", refs[0].DisplayName)
	}
}

func TestExpandAllMarksBrokenLinks(t *testing.T) {
	store := newFakeStore()
	store.add("Investors", airtable.Record{ID: "recINV1", Fields: map[string]any{"Name": "Blue Harbor LP"}})

	rows := []airtable.Record{{
		ID: "rec1",
		Fields: map[string]any{
			"Investor": []any{"recINV1", "recGONE"},
			"Status":   "Open",
		},
	}}

	out, err := New(store, testLinks).ExpandAll(context.Background(), rows)
	if err != nil {
		t.Fatalf("ExpandAll() error = %v", err)
	}

	refs := out[0].Fields["Investor"].([]Ref)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[0].Error || refs[0].DisplayName != "Blue Harbor LP" {
		t.Errorf("resolved ref corrupted: %+v", refs[0])
	}
	if !refs[1].Error || refs[1].ID != "recGONE" {
		t.Errorf("broken link not marked: %+v", refs[1])
	}
	// The rest of the row survives untouched
	if out[0].Fields["Status"] != "Open" {
		t.Errorf("Status = %v, want Open", out[0].Fields["Status"])
	}
}

func TestExpandAllDegradesOnTableFailure(t *testing.T) {
	store := newFakeStore()
	store.add("Investors", airtable.Record{ID: "recINV1", Fields: map[string]any{"Name": "Blue Harbor LP"}})
	store.fail["Team Members"] = true

	rows := []airtable.Record{{
		ID: "rec1",
		Fields: map[string]any{
			"Investor":  []any{"recINV1"},
			"Deal Lead": []any{"recTM1"},
		},
	}}

	out, err := New(store, testLinks).ExpandAll(context.Background(), rows)
	if err != nil {
		t.Fatalf("ExpandAll() should degrade, not fail: %v", err)
	}
	if refs := out[0].Fields["Investor"].([]Ref); refs[0].Error {
		t.Error("healthy table's references should still resolve")
	}
	if refs := out[0].Fields["Deal Lead"].([]Ref); !refs[0].Error {
		t.Error("failed table's references should be error placeholders")
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.add("Investors", airtable.Record{ID: "recINV1", Fields: map[string]any{"Name": "Blue Harbor LP", "Email": "lp@example.com"}})
	rec := airtable.Record{
		ID:     "rec1",
		Fields: map[string]any{"Investor": []any{"recINV1"}, "Amount": float64(100000)},
	}
	expander := New(store, testLinks)

	first, err := expander.Expand(context.Background(), rec)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	second, err := expander.Expand(context.Background(), rec)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("expansion not deterministic:\n%s\n%s", a, b)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{
			name:   "name wins",
			fields: map[string]any{"Name": "Blue Harbor LP", "Email": "lp@example.com"},
			want:   "Blue Harbor LP",
		},
		{
			name:   "full name over company",
			fields: map[string]any{"Company": "Crestline", "Full Name": "Dana Ortiz"},
			want:   "Dana Ortiz",
		},
		{
			name:   "email fallback",
			fields: map[string]any{"Email": "lp@example.com", "Amount": float64(5)},
			want:   "lp@example.com",
		},
		{
			name:   "first string field",
			fields: map[string]any{"Zeta": "last", "Alpha": "first", "Amount": float64(5)},
			want:   "first",
		},
		{
			name:   "raw id fallback",
			fields: map[string]any{"Amount": float64(5)},
			want:   "recFALLBACK",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.fields, "recFALLBACK"); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

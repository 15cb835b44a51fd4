package api

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/harborview/lp-portal-sync/internal/airtable"
	"github.com/harborview/lp-portal-sync/internal/expand"
	"github.com/harborview/lp-portal-sync/internal/hub"
	"github.com/harborview/lp-portal-sync/internal/syncer"
	"github.com/harborview/lp-portal-sync/internal/version"
	"github.com/harborview/lp-portal-sync/internal/visibility"
)

const (
	testTable  = "Partner Investments"
	testSecret = "hook-secret"
)

// fakeStore is an in-memory stand-in for the Airtable client.
type fakeStore struct {
	mu     sync.Mutex
	tables map[string]map[string]airtable.Record
	order  map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables: map[string]map[string]airtable.Record{},
		order:  map[string][]string{},
	}
}

func (s *fakeStore) add(table string, rec airtable.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = map[string]airtable.Record{}
	}
	if _, exists := s.tables[table][rec.ID]; !exists {
		s.order[table] = append(s.order[table], rec.ID)
	}
	s.tables[table][rec.ID] = rec
}

func (s *fakeStore) ListAll(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []airtable.Record
	for _, id := range s.order[table] {
		out = append(out, s.tables[table][id])
	}
	return out, nil
}

func (s *fakeStore) FindByID(ctx context.Context, table, id string) (airtable.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return airtable.Record{}, airtable.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) FindByIDs(ctx context.Context, table string, ids []string) (map[string]airtable.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := map[string]airtable.Record{}
	for _, id := range ids {
		if rec, ok := s.tables[table][id]; ok {
			found[id] = rec
		}
	}
	return found, nil
}

func (s *fakeStore) Update(ctx context.Context, table, id string, fields map[string]any) (airtable.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return airtable.Record{}, airtable.ErrNotFound
	}
	updated := rec.Clone()
	for k, v := range fields {
		updated.Fields[k] = v
	}
	s.tables[table][id] = updated
	return updated, nil
}

// newTestServer assembles a full stack over the fake store and serves it.
func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *syncer.Service) {
	t.Helper()
	store := newFakeStore()
	store.add("Investors", airtable.Record{ID: "recINV1", Fields: map[string]any{"Name": "Blue Harbor LP"}})
	store.add(testTable, airtable.Record{ID: "recXYZ", Fields: map[string]any{
		"Status":   "Open",
		"Carry":    "20%",
		"Investor": []any{"recINV1"},
	}})

	expander := expand.New(store, map[string]string{"Investor": "Investors"})
	svc := syncer.New(store, expander, version.New(100), hub.New(), testTable, "")
	rules := visibility.NewRules([]visibility.Rule{
		{Table: testTable, Field: "Carry", Admin: true, Investor: false},
	})

	server := NewServer(svc, rules, testSecret, "http://localhost:3000", "test")
	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts, store, svc
}

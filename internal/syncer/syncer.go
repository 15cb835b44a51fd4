// Package syncer coordinates the live-update pipeline: store fetches, link
// expansion, version tracking, and push fan-out. One Service is constructed
// at process start and handed to the HTTP layer; it owns all cross-request
// state.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harborview/lp-portal-sync/internal/airtable"
	"github.com/harborview/lp-portal-sync/internal/expand"
	"github.com/harborview/lp-portal-sync/internal/hub"
	"github.com/harborview/lp-portal-sync/internal/logger"
	"github.com/harborview/lp-portal-sync/internal/version"
)

// Store is the record store surface the service depends on.
type Store interface {
	ListAll(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
	FindByID(ctx context.Context, table, id string) (airtable.Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (airtable.Record, error)
}

// RecordResult is an expanded record plus its current version token, the
// value a client must echo back as lastSeenModifiedTime on its next write.
type RecordResult struct {
	airtable.Record
	LastModified string `json:"lastModified,omitempty"`
}

// ConflictError reports a rejected write. Current carries the authoritative
// expanded row so the client can reconcile; the store is never double-written.
type ConflictError struct {
	Current RecordResult
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record %s was modified at %s", e.Current.ID, e.Current.LastModified)
}

// Service wires the store client, expander, version tracker, and fan-out hub
// together.
type Service struct {
	store    Store
	expander *expand.Expander
	tracker  *version.Tracker
	hub      *hub.Hub
	table    string
	view     string
}

// New assembles a sync service for one primary table.
func New(store Store, expander *expand.Expander, tracker *version.Tracker, h *hub.Hub, table, view string) *Service {
	return &Service{
		store:    store,
		expander: expander,
		tracker:  tracker,
		hub:      h,
		table:    table,
		view:     view,
	}
}

// Hub exposes the fan-out hub for the push transports.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Table returns the primary table name.
func (s *Service) Table() string {
	return s.table
}

// Snapshot is the pull path: the full primary table, expanded, in store
// order. Polling clients use this to recover anything the push channels
// dropped.
func (s *Service) Snapshot(ctx context.Context) ([]RecordResult, error) {
	records, err := s.store.ListAll(ctx, s.table, airtable.ListOptions{View: s.view})
	if err != nil {
		return nil, err
	}
	expanded, err := s.expander.ExpandAll(ctx, records)
	if err != nil {
		return nil, err
	}
	results := make([]RecordResult, len(expanded))
	for i, rec := range expanded {
		results[i] = s.withVersion(rec)
	}
	return results, nil
}

// Update applies a conflict-checked write. lastSeen is the client's version
// token for the record; empty means force. On conflict the returned error is
// a *ConflictError carrying the current expanded row. On success the write is
// applied, the version bumped, and the fresh row broadcast to all push
// subscribers.
func (s *Service) Update(ctx context.Context, table, id string, fields map[string]any, lastSeen string) (RecordResult, error) {
	if s.tracker.Check(id, lastSeen) {
		current, err := s.fetchExpanded(ctx, table, id)
		if err != nil {
			return RecordResult{}, err
		}
		return RecordResult{}, &ConflictError{Current: current}
	}

	updated, err := s.store.Update(ctx, table, id, fields)
	if err != nil {
		return RecordResult{}, err
	}
	ts := s.tracker.RecordMutation(id)

	expanded, err := s.expander.Expand(ctx, updated)
	if err != nil {
		return RecordResult{}, err
	}
	result := RecordResult{Record: expanded, LastModified: version.Token(ts)}
	s.broadcast(table, result)
	return result, nil
}

// NotifyChanged is the webhook path: each changed ID is independently
// re-fetched, expanded, version-bumped, and broadcast — one event per ID. A
// failure on one ID is logged and the rest proceed; the returned count is
// the processed subset.
func (s *Service) NotifyChanged(ctx context.Context, ids []string) int {
	processed := 0
	for _, id := range ids {
		rec, err := s.store.FindByID(ctx, s.table, id)
		if err != nil {
			logger.Error("webhook refresh failed", "record_id", id, "error", err)
			continue
		}
		ts := s.tracker.RecordMutation(id)

		expanded, err := s.expander.Expand(ctx, rec)
		if err != nil {
			logger.Error("webhook expansion failed", "record_id", id, "error", err)
			continue
		}
		s.broadcast(s.table, RecordResult{Record: expanded, LastModified: version.Token(ts)})
		processed++
	}
	return processed
}

func (s *Service) fetchExpanded(ctx context.Context, table, id string) (RecordResult, error) {
	rec, err := s.store.FindByID(ctx, table, id)
	if err != nil {
		return RecordResult{}, err
	}
	expanded, err := s.expander.Expand(ctx, rec)
	if err != nil {
		return RecordResult{}, err
	}
	return s.withVersion(expanded), nil
}

func (s *Service) withVersion(rec airtable.Record) RecordResult {
	result := RecordResult{Record: rec}
	if ts, ok := s.tracker.Current(rec.ID); ok {
		result.LastModified = version.Token(ts)
	}
	return result
}

// broadcast serializes the row once and hands it to the hub. Two triggers
// for the same record can still publish out of server-write order when the
// earlier trigger's fetch-and-expand round trip is slower; that race is
// inherited behavior, not a guarantee worth adding sequencing for.
func (s *Service) broadcast(table string, result RecordResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("broadcast marshal failed", "record_id", result.ID, "error", err)
		return
	}
	s.hub.Broadcast(hub.Event{TableID: table, Record: payload})
}

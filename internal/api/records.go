package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harborview/lp-portal-sync/internal/airtable"
	"github.com/harborview/lp-portal-sync/internal/logger"
	"github.com/harborview/lp-portal-sync/internal/syncer"
)

// dataResponse is the snapshot payload. Records duplicates Data for older
// portal builds that still read the records key.
type dataResponse struct {
	OK      bool                  `json:"ok"`
	Count   int                   `json:"count"`
	Data    []syncer.RecordResult `json:"data"`
	Records []syncer.RecordResult `json:"records"`
}

// updateRecordRequest is the body of PUT /api/record. LastSeenModifiedTime
// is the version token from a previous read; null or absent forces the
// write.
type updateRecordRequest struct {
	TableIDOrName        string         `json:"tableIdOrName"`
	RecordID             string         `json:"recordId"`
	Fields               map[string]any `json:"fields"`
	LastSeenModifiedTime string         `json:"lastSeenModifiedTime"`
}

// updateRecordResponse is the success payload of PUT /api/record.
type updateRecordResponse struct {
	OK     bool                `json:"ok"`
	Record syncer.RecordResult `json:"record"`
}

// conflictResponse is the 409 payload: the authoritative current row so the
// client can reconcile and retry.
type conflictResponse struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error"`
	Record syncer.RecordResult `json:"record"`
}

// handleGetData returns the full expanded snapshot of the primary table.
// GET /api/data
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), StoreTimeout)
	defer cancel()

	results, err := s.svc.Snapshot(ctx)
	if err != nil {
		logger.Ctx(r.Context()).Error("snapshot failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch records")
		return
	}

	role := roleFor(r)
	table := s.svc.Table()
	for i := range results {
		results[i].Fields = s.rules.Filter(role, table, results[i].Fields)
	}

	// The pull path is the recovery mechanism for missed push events; it
	// must never serve a cached snapshot.
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, dataResponse{
		OK:      true,
		Count:   len(results),
		Data:    results,
		Records: results,
	})
}

// handleUpdateRecord applies a conflict-checked partial update.
// PUT /api/record
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TableIDOrName == "" {
		respondError(w, http.StatusBadRequest, "tableIdOrName is required")
		return
	}
	if req.RecordID == "" {
		respondError(w, http.StatusBadRequest, "recordId is required")
		return
	}
	if len(req.Fields) == 0 {
		respondError(w, http.StatusBadRequest, "fields is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), StoreTimeout)
	defer cancel()

	result, err := s.svc.Update(ctx, req.TableIDOrName, req.RecordID, req.Fields, req.LastSeenModifiedTime)
	if err != nil {
		var conflict *syncer.ConflictError
		switch {
		case errors.As(err, &conflict):
			logger.Ctx(r.Context()).Info("write conflict",
				"record_id", req.RecordID,
				"client_token", req.LastSeenModifiedTime,
				"current_token", conflict.Current.LastModified)
			respondJSON(w, http.StatusConflict, conflictResponse{
				OK:     false,
				Error:  "conflict",
				Record: s.filtered(r, req.TableIDOrName, conflict.Current),
			})
		case airtable.IsNotFound(err):
			respondError(w, http.StatusNotFound, "Record not found")
		default:
			logger.Ctx(r.Context()).Error("update failed", "record_id", req.RecordID, "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to update record")
		}
		return
	}

	respondJSON(w, http.StatusOK, updateRecordResponse{
		OK:     true,
		Record: s.filtered(r, req.TableIDOrName, result),
	})
}

func (s *Server) filtered(r *http.Request, table string, result syncer.RecordResult) syncer.RecordResult {
	result.Fields = s.rules.Filter(roleFor(r), table, result.Fields)
	return result
}

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harborview/lp-portal-sync/internal/logger"
)

// webhookSecretHeader carries the shared secret configured in the store's
// webhook automation.
const webhookSecretHeader = "X-Webhook-Secret"

// webhookPayload accepts the three shapes the store's automations have sent
// over time: a single ID, a list, or the snake_case list from the native
// webhooks API.
type webhookPayload struct {
	RecordID         string   `json:"recordId"`
	RecordIDs        []string `json:"recordIds"`
	ChangedRecordIDs []string `json:"changed_record_ids"`
}

func (p webhookPayload) ids() []string {
	var ids []string
	if p.RecordID != "" {
		ids = append(ids, p.RecordID)
	}
	ids = append(ids, p.RecordIDs...)
	ids = append(ids, p.ChangedRecordIDs...)
	return ids
}

// handleWebhook ingests a store-side change notification and rebroadcasts
// the named records. Each ID is refreshed independently; a failing ID does
// not block the rest, and the response reports the processed subset.
// POST /airtable-webhook
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		provided := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.webhookSecret)) != 1 {
			logger.Ctx(r.Context()).Warn("webhook secret mismatch")
			respondError(w, http.StatusUnauthorized, "Invalid webhook secret")
			return
		}
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	ids := payload.ids()
	if len(ids) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"message": "No record IDs in payload",
		})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("webhook.record_count", len(ids)))

	ctx, cancel := context.WithTimeout(r.Context(), StoreTimeout)
	defer cancel()
	processed := s.svc.NotifyChanged(ctx, ids)

	logger.Ctx(r.Context()).Info("webhook processed", "received", len(ids), "processed", processed)
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"processed": processed,
	})
}

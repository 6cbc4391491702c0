/**
 * @description
 * This file contains the HTTP handlers for the dunning-service's API endpoints.
 * Handlers parse incoming requests, call the application service, and write the
 * HTTP response. They act as the bridge between the web layer and the decision
 * engine, batch processor, and reporting layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/app"
	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
)

// DunningHandlers holds the application service that handlers will use.
type DunningHandlers struct {
	service *app.Service
}

// NewDunningHandlers creates a new instance of DunningHandlers.
func NewDunningHandlers(service *app.Service) *DunningHandlers {
	return &DunningHandlers{service: service}
}

// processRequest is the body of POST /dunning/process. All fields are optional;
// an empty body runs a default live batch.
type processRequest struct {
	PaymentID      *string `json:"payment_id,omitempty"`
	SubscriptionID *string `json:"subscription_id,omitempty"`
	DryRun         bool    `json:"dry_run"`
	ForceProcess   bool    `json:"force_process"`
	MaxBatchSize   int     `json:"max_batch_size,omitempty"`
}

// ProcessDunningHandler triggers a batch dunning run. Per-payment failures are
// reported inside the 200 response body; only run-level failures get an error
// status.
func (h *DunningHandlers) ProcessDunningHandler(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	opts := domain.ProcessOptions{
		DryRun:       req.DryRun,
		ForceProcess: req.ForceProcess,
		MaxBatchSize: req.MaxBatchSize,
	}
	if req.PaymentID != nil {
		id, err := uuid.Parse(*req.PaymentID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid payment_id format")
			return
		}
		opts.PaymentID = &id
	}
	if req.SubscriptionID != nil {
		id, err := uuid.Parse(*req.SubscriptionID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid subscription_id format")
			return
		}
		opts.SubscriptionID = &id
	}

	result, err := h.service.ProcessDunning(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrRunInProgress):
			h.writeError(w, http.StatusConflict, "A dunning run is already in progress")
		case errors.Is(err, store.ErrPaymentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, store.ErrPaymentNotFailed):
			h.writeError(w, http.StatusUnprocessableEntity, "Payment is not in failed status")
		default:
			log.Printf("level=error component=api endpoint=process_dunning msg=\"batch run failed\" err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Dunning run failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetDunningStatusHandler lists subscriptions currently in dunning.
func (h *DunningHandlers) GetDunningStatusHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.StatusListOptions{}

	q := r.URL.Query()
	if raw := q.Get("subscription_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid subscription_id format")
			return
		}
		opts.SubscriptionID = &id
	}
	if status := q.Get("status"); status != "" {
		opts.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}
	var ok bool
	if opts.From, ok = parseTimeParam(w, h, q.Get("from"), "from"); !ok {
		return
	}
	if opts.To, ok = parseTimeParam(w, h, q.Get("to"), "to"); !ok {
		return
	}

	entries, err := h.service.GetDunningStatus(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=dunning_status msg=\"status query failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not load dunning status")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(entries),
		"subscriptions": entries,
	})
}

// GetDunningAnalyticsHandler returns the recovery performance summary.
func (h *DunningHandlers) GetDunningAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.AnalyticsOptions{}

	q := r.URL.Query()
	if raw := q.Get("subscription_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid subscription_id format")
			return
		}
		opts.SubscriptionID = &id
	}
	var ok bool
	if opts.From, ok = parseTimeParam(w, h, q.Get("from"), "from"); !ok {
		return
	}
	if opts.To, ok = parseTimeParam(w, h, q.Get("to"), "to"); !ok {
		return
	}

	analytics, err := h.service.GetDunningAnalytics(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=dunning_analytics msg=\"analytics query failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not load dunning analytics")
		return
	}

	h.writeJSON(w, http.StatusOK, analytics)
}

// GetDunningConfigHandler returns the effective dunning policy for one subscription.
func (h *DunningHandlers) GetDunningConfigHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription ID format")
		return
	}

	cfg, err := h.service.GetDunningConfig(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		log.Printf("level=error component=api endpoint=dunning_config msg=\"config lookup failed\" subscription_id=%s err=%v", subscriptionID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load dunning config")
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// UpdateDunningConfigHandler writes per-subscription policy overrides.
func (h *DunningHandlers) UpdateDunningConfigHandler(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid subscription ID format")
		return
	}

	var update domain.DunningConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if update.GracePeriodDays == nil && update.MaxAttempts == nil {
		h.writeError(w, http.StatusBadRequest, "At least one of grace_period_days or max_attempts is required")
		return
	}

	cfg, err := h.service.UpdateDunningConfig(r.Context(), subscriptionID, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSubscriptionNotFound):
			h.writeError(w, http.StatusNotFound, "Subscription not found")
		case errors.Is(err, app.ErrInvalidGracePeriod), errors.Is(err, app.ErrInvalidMaxAttempts):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("level=error component=api endpoint=dunning_config msg=\"config update failed\" subscription_id=%s err=%v", subscriptionID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not update dunning config")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// parseTimeParam parses an optional RFC3339 query parameter, writing a 400 on
// malformed input. The bool reports whether the caller may continue.
func parseTimeParam(w http.ResponseWriter, h *DunningHandlers, raw, name string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name+" timestamp, expected RFC3339")
		return nil, false
	}
	return &t, true
}

func (h *DunningHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *DunningHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

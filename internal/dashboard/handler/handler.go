// Package handler implements the dashboard API's HTTP endpoints on top of
// the dashboard service.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/internal/analytics/client"
	"github.com/pabbly/hookdash/internal/dashboard/middleware"
	"github.com/pabbly/hookdash/internal/dashboard/service"
	"github.com/pabbly/hookdash/internal/probe"
	"github.com/pabbly/hookdash/internal/store"
	"github.com/pabbly/hookdash/internal/table"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler serves the analytics, cache and health endpoints. Record endpoints
// are built per collection with List, Create and Delete.
type Handler struct {
	svc    *service.Service
	prober *probe.Prober
}

func New(svc *service.Service, prober *probe.Prober) *Handler {
	return &Handler{
		svc:    svc,
		prober: prober,
	}
}

// Analytics loads the aggregate for the request's query parameters.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Analytics(r.Context(), analytics.FiltersFromQuery(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.Envelope[*service.AnalyticsReport]{Success: true, Data: report})
}

// Section proxies one analytics section.
func (h *Handler) Section(w http.ResponseWriter, r *http.Request) {
	raw, err := h.svc.Section(r.Context(), mux.Vars(r)["section"], analytics.FiltersFromQuery(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.Snapshots(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": list, "count": len(list)})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "snapshot id must be a number"))
		return
	}
	snap, err := h.svc.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.LatestSnapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "invalidated",
		"keys_deleted": n,
		"enabled":      h.svc.CacheEnabled(),
	})
}

func (h *Handler) ActivityLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ActivityLogs(table.ParseQuery(r.URL.Query())))
}

// Upstream reports both probes as-is. It always answers 200; availability is
// in the body.
func (h *Handler) Upstream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prober.All(r.Context()))
}

// List serves a record collection through the table pipeline.
func List[T store.Record, In service.Builder[T]](recs *service.Records[T, In]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, recs.List(table.ParseQuery(r.URL.Query())))
	}
}

// Create decodes a JSON body into In and adds the built record.
func Create[T store.Record, In service.Builder[T]](recs *service.Records[T, In]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
			writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err))
			return
		}
		item, err := recs.Create(r.Context(), middleware.ActorFromContext(r.Context()), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

// Delete removes the record named by the {id} route variable.
func Delete[T store.Record, In service.Builder[T]](recs *service.Records[T, In]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := recs.Delete(r.Context(), middleware.ActorFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type errorBody struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Errors  []string       `json:"errors,omitempty"`
	Body    map[string]any `json:"upstream,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := errorBody{Error: err.Error()}

	var appErr *apperrors.AppError
	var dateErr *service.DateRangeError
	var apiErr *client.APIError
	switch {
	case errors.As(err, &dateErr):
		body.Error = "invalid date range"
		body.Errors = dateErr.Errors
	case errors.As(err, &apiErr):
		body.Error = apiErr.Message
		body.Body = apiErr.Body
	case errors.As(err, &appErr):
		body.Error = appErr.Message
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package router wires up the dashboard API routes and applies the
// middleware chain.
package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pabbly/hookdash/internal/auth/ratelimit"
	"github.com/pabbly/hookdash/internal/dashboard/handler"
	dashmw "github.com/pabbly/hookdash/internal/dashboard/middleware"
	"github.com/pabbly/hookdash/internal/dashboard/service"
	"github.com/pabbly/hookdash/internal/store"
	"github.com/pabbly/hookdash/pkg/health"
	"github.com/pabbly/hookdash/pkg/metrics"
	pkgmw "github.com/pabbly/hookdash/pkg/middleware"
)

// Config carries the middleware settings. A nil Limiter or Metrics disables
// that middleware.
type Config struct {
	CORS           dashmw.CORSConfig
	RequireToken   bool
	Limiter        *ratelimit.Limiter
	TrustedProxies dashmw.TrustedProxies
	Metrics        *metrics.Metrics
	HandlerTimeout time.Duration
}

// New builds the dashboard HTTP handler.
//
// Route table:
//
//	GET    /api/analytics                    → aggregate of all six sections
//	GET    /api/analytics/snapshots          → recent persisted aggregates
//	GET    /api/analytics/snapshots/latest   → newest persisted aggregate
//	GET    /api/analytics/snapshots/{id}     → one persisted aggregate
//	GET    /api/analytics/{section}          → one section, raw envelope
//	POST   /api/cache/invalidate             → drop cached aggregates
//	GET    /api/{records}                    → filtered, sorted, paginated list
//	POST   /api/{records}                    → create
//	DELETE /api/{records}/{id}               → delete
//	GET    /api/activity-logs                → activity feed
//	GET    /health/live, /health/ready, /health/upstream
//
// where {records} is connections, team-members, smtp-accounts or
// integrations.
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Bearer → RateLimit → Timeout → router (Metrics) → handler
func New(h *handler.Handler, svc *service.Service, checker *health.Checker, cfg Config) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/upstream", h.Upstream).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analytics", h.Analytics).Methods(http.MethodGet)
	api.HandleFunc("/analytics/snapshots", h.Snapshots).Methods(http.MethodGet)
	api.HandleFunc("/analytics/snapshots/latest", h.LatestSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/analytics/snapshots/{id:[0-9]+}", h.Snapshot).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{section}", h.Section).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidate", h.InvalidateCache).Methods(http.MethodPost)
	api.HandleFunc("/activity-logs", h.ActivityLogs).Methods(http.MethodGet)

	records(api, "/connections", svc.Connections)
	records(api, "/team-members", svc.TeamMembers)
	records(api, "/smtp-accounts", svc.SMTPAccounts)
	records(api, "/integrations", svc.Integrations)

	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	if cfg.Metrics != nil {
		// Metrics labels by route template, which is only known once the
		// router has matched.
		r.Use(pkgmw.Metrics(cfg.Metrics))
	}

	var chain http.Handler = r
	chain = pkgmw.Timeout(cfg.HandlerTimeout)(chain)
	if cfg.Limiter != nil {
		chain = dashmw.RateLimit(cfg.Limiter, cfg.TrustedProxies)(chain)
	}
	chain = dashmw.Bearer(cfg.RequireToken)(chain)
	chain = dashmw.CORS(cfg.CORS)(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}

func records[T store.Record, In service.Builder[T]](api *mux.Router, path string, recs *service.Records[T, In]) {
	api.HandleFunc(path, handler.List(recs)).Methods(http.MethodGet)
	api.HandleFunc(path, handler.Create(recs)).Methods(http.MethodPost)
	api.HandleFunc(path+"/{id}", handler.Delete(recs)).Methods(http.MethodDelete)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusNotFound, "not found")
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// Package adminapi is the thin operational HTTP surface for the trust and
// transport core: webhook CRUD, delivery status lookup, health, and
// metrics. These are operator endpoints for the core itself, not a
// general-purpose request/schema layer for callers of the core.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/trustcore/internal/metrics"
	"github.com/vitaliisemenov/trustcore/internal/middleware"
	"github.com/vitaliisemenov/trustcore/internal/truststore"
	"github.com/vitaliisemenov/trustcore/internal/webhook"
)

// Router builds the admin HTTP surface.
type Router struct {
	queue    *webhook.Queue
	gate     *truststore.Gate
	registry *metrics.Registry
	logger   *slog.Logger
	validate *validator.Validate
}

// New constructs a Router and registers its routes on a fresh mux.Router.
func New(queue *webhook.Queue, gate *truststore.Gate, registry *metrics.Registry, logger *slog.Logger) *mux.Router {
	a := &Router{queue: queue, gate: gate, registry: registry, logger: logger, validate: validator.New()}

	r := mux.NewRouter()
	r.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	if gate != nil {
		r.Use(gate.Middleware(60, 120))
	}

	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/webhooks", a.handleCreateWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks", a.handleListWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}/pause", a.handlePauseWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}/resume", a.handleResumeWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}", a.handleDeleteWebhook).Methods(http.MethodDelete)
	r.HandleFunc("/deliveries/{id}", a.handleGetDelivery).Methods(http.MethodGet)

	return r
}

func (a *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createWebhookRequest struct {
	UserID string          `json:"userId" validate:"required"`
	Name   string          `json:"name" validate:"required"`
	URL    string          `json:"url" validate:"required,url"`
	Secret string          `json:"secret" validate:"required,min=16"`
	Events map[string]bool `json:"events" validate:"required"`
}

func (a *Router) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wh := webhook.Webhook{
		ID:      uuid.NewString(),
		UserID:  req.UserID,
		Name:    req.Name,
		URL:     req.URL,
		Secret:  []byte(req.Secret),
		Events:  req.Events,
		Status:  webhook.StatusActive,
		Options: webhook.DefaultOptions(),
	}
	if err := a.queue.SaveWebhook(r.Context(), wh); err != nil {
		a.logger.ErrorContext(r.Context(), "adminapi: save webhook failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to save webhook")
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (a *Router) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	webhooks, err := a.queue.ListWebhooksForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, webhooks)
}

func (a *Router) handlePauseWebhook(w http.ResponseWriter, r *http.Request) {
	a.setWebhookStatus(w, r, webhook.StatusPaused)
}

func (a *Router) handleResumeWebhook(w http.ResponseWriter, r *http.Request) {
	a.setWebhookStatus(w, r, webhook.StatusActive)
}

func (a *Router) setWebhookStatus(w http.ResponseWriter, r *http.Request, status webhook.Status) {
	id := mux.Vars(r)["id"]
	wh, ok, err := a.queue.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	wh.Status = status
	if err := a.queue.SaveWebhook(r.Context(), *wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save webhook")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (a *Router) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wh, ok, err := a.queue.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	wh.Status = webhook.StatusDisabled
	if err := a.queue.SaveWebhook(r.Context(), *wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disable webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Router) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok, err := a.queue.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load delivery")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/db"
	"controld_bridge/core-go/internal/metrics"
	"controld_bridge/core-go/internal/profilesync"
	"controld_bridge/core-go/internal/registry"
)

// EntitySource is the read side of the exposed-entity registry.
type EntitySource interface {
	Lookup(identity string) (*registry.Entity, bool)
	All() []*registry.Entity
}

// DeviceService lists Control D devices and reassigns their profile.
type DeviceService interface {
	ListDevices(ctx context.Context) []controld.Device
	AssignDeviceProfile(ctx context.Context, deviceID, profileID string) bool
}

// Readiness reports whether the sync loop has a usable API token.
type Readiness interface {
	Valid() bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Entities EntitySource
	Devices  DeviceService
	Gate     Readiness
	Metrics  *metrics.Metrics
}

type Handler struct {
	log      zerolog.Logger
	db       pinger
	entities EntitySource
	devices  DeviceService
	gate     Readiness
	metrics  *metrics.Metrics
}

// NewHandler builds the HTTP surface. pool may be nil when the entity cache
// is disabled.
func NewHandler(log zerolog.Logger, pool *db.Pool, opts Options) *Handler {
	h := &Handler{
		log:      log.With().Str("component", "httpapi").Logger(),
		entities: opts.Entities,
		devices:  opts.Devices,
		gate:     opts.Gate,
		metrics:  opts.Metrics,
	}
	if pool != nil {
		h.db = pool
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/entities", func(r chi.Router) {
				r.Get("/", h.handleListEntities)
				r.Route("/{identity}", func(r chi.Router) {
					r.Get("/", h.handleGetEntity)
					r.Put("/", h.handleSetEntity)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.handleListDevices)
				r.Put("/{id}", h.handleAssignDevice)
			})
		})
	})

	return r
}

// echoRequestID returns the request id to the caller so it can be matched
// against the access log.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), duration)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.gate == nil || !h.gate.Valid() {
		h.writeError(w, http.StatusServiceUnavailable, "not_authenticated", "Control D token not validated", nil)
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type entity struct {
	Identity     string `json:"identity"`
	Name         string `json:"name"`
	ProfileID    string `json:"profile_id"`
	On           bool   `json:"on"`
	DisableTTL   *int64 `json:"disable_ttl,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

type entityUpdate struct {
	On *bool `json:"on"`
}

func toEntity(e *registry.Entity) entity {
	p := e.Profile()
	info := e.Info()
	return entity{
		Identity:     e.Identity,
		Name:         e.Name(),
		ProfileID:    p.PK,
		On:           e.On(),
		DisableTTL:   p.DisableTTL,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SerialNumber: info.SerialNumber,
	}
}

func (h *Handler) ensureEntities(w http.ResponseWriter) bool {
	if h.entities == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sync_unavailable", "profile sync not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	if !h.ensureEntities(w) {
		return
	}

	all := h.entities.All()
	resp := make([]entity, 0, len(all))
	for _, e := range all {
		resp = append(resp, toEntity(e))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if !h.ensureEntities(w) {
		return
	}

	e, ok := h.entities.Lookup(identity)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "entity not found", map[string]any{"identity": identity})
		return
	}
	h.writeJSON(w, http.StatusOK, toEntity(e))
}

func (h *Handler) handleSetEntity(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req entityUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.On == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "on is required", nil)
		return
	}

	if !h.ensureEntities(w) {
		return
	}

	e, ok := h.entities.Lookup(identity)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "entity not found", map[string]any{"identity": identity})
		return
	}
	handler := e.Handler()
	if handler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_bound", "entity has no controller yet", map[string]any{"identity": identity})
		return
	}

	if err := handler.Set(r.Context(), *req.On); err != nil {
		if errors.Is(err, profilesync.ErrCommunicationFailure) {
			h.writeError(w, http.StatusBadGateway, "communication_failure", "Control D did not accept the change", map[string]any{"identity": identity})
			return
		}
		h.log.Error().Err(err).Str("identity", identity).Msg("set entity failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to set entity", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, toEntity(e))
}

type device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name,omitempty"`
	Status      int    `json:"status"`
}

type deviceAssign struct {
	ProfileID string `json:"profile_id"`
}

func toDevice(d controld.Device) device {
	return device{
		ID:          d.PK,
		Name:        d.Name,
		ProfileID:   d.Profile.PK,
		ProfileName: d.Profile.Name,
		Status:      d.Status,
	}
}

func (h *Handler) ensureDevices(w http.ResponseWriter) bool {
	if h.devices == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sync_unavailable", "Control D client not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDevices(w) {
		return
	}

	rows := h.devices.ListDevices(r.Context())
	resp := make([]device, 0, len(rows))
	for _, d := range rows {
		resp = append(resp, toDevice(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req deviceAssign
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "profile_id is required", nil)
		return
	}

	if !h.ensureDevices(w) {
		return
	}

	if !h.devices.AssignDeviceProfile(r.Context(), id, req.ProfileID) {
		h.writeError(w, http.StatusBadGateway, "communication_failure", "Control D did not accept the change", map[string]any{"id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "profile_id": req.ProfileID})
}

package router

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/metrics"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/service"
	"github.com/conduit-lang/cloner/internal/web/middleware"
	"github.com/conduit-lang/cloner/internal/web/response"
)

// Routes of the API
const (
	DuplicatePattern = "/resources/{resource}/{id}/duplicate"
	EventsPattern    = "/events"
)

// Duplicator runs duplication requests
type Duplicator interface {
	Duplicate(ctx context.Context, req service.Request) (*record.Record, error)
}

// APIConfig holds the collaborators of the HTTP API
type APIConfig struct {
	Duplicator Duplicator

	// Collector and Gatherer enable request metrics and GET /metrics
	Collector *metrics.Collector
	Gatherer  prometheus.Gatherer

	// Health reports whether the datastores are reachable
	Health func(ctx context.Context) error

	// Events serves the websocket event stream on GET /events when set
	Events http.Handler

	// Auth guards the duplicate and events routes when set
	Auth middleware.Middleware

	Logger *zap.Logger
}

// Clone is the body of a successful duplicate reply
type Clone struct {
	Resource   string                 `json:"resource"`
	ID         interface{}            `json:"id"`
	Datastore  string                 `json:"datastore,omitempty"`
	Attributes map[string]interface{} `json:"attributes"`
}

// NewAPI builds the router of the duplication API
func NewAPI(cfg APIConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger, "/healthz", "/metrics"),
	)
	if cfg.Collector != nil {
		r.Use(middleware.Metrics(cfg.Collector))
	}

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	protect := func(h http.Handler) http.Handler {
		if cfg.Auth == nil {
			return h
		}
		return cfg.Auth(h)
	}
	r.Post(DuplicatePattern, protect(duplicateHandler(cfg.Duplicator, logger)))
	if cfg.Events != nil {
		r.Get(EventsPattern, protect(cfg.Events))
	}
	return r
}

func healthHandler(check func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				response.RenderError(w, http.StatusServiceUnavailable, "", err.Error())
				return
			}
		}
		response.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// internalErrorMessage replaces the detail of 5xx replies, which is logged
const internalErrorMessage = "duplication failed"

func duplicateHandler(d Duplicator, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := service.Request{
			Resource: chi.URLParam(r, "resource"),
			ID:       chi.URLParam(r, "id"),
			From:     query.Get("from"),
			To:       query.Get("to"),
		}
		if raw := query.Get("atomic"); raw != "" {
			atomic, err := strconv.ParseBool(raw)
			if err != nil {
				response.RenderError(w, http.StatusBadRequest, "", "atomic must be a boolean")
				return
			}
			req.Atomic = atomic
		}

		clone, err := d.Duplicate(r.Context(), req)
		if err != nil {
			reason := service.Reason(err)
			status := statusFor(reason)
			message := err.Error()
			if status >= http.StatusInternalServerError {
				logger.Error("duplication failed",
					zap.String("request_id", middleware.GetRequestID(r.Context())),
					zap.String("resource", req.Resource),
					zap.String("id", req.ID),
					zap.String("reason", reason),
					zap.Error(err),
				)
				message = internalErrorMessage
			}
			response.RenderError(w, status, reason, message)
			return
		}

		response.RenderJSON(w, http.StatusCreated, Clone{
			Resource:   clone.TypeName(),
			ID:         clone.ID(),
			Datastore:  clone.Datastore(),
			Attributes: clone.Attributes,
		})
	})
}

func statusFor(reason string) int {
	switch reason {
	case service.ReasonNotFound:
		return http.StatusNotFound
	case service.ReasonInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/dispatch"
)

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospect_api_requests_total",
		Help: "Total number of dispatch requests received",
	}, []string{"action", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prospect_api_request_duration_seconds",
		Help:    "Latency for dispatch requests",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"action"})
)

type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) (any, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	dispatcher Dispatcher
	queue      MessageWriter
	db         Pinger
	timeout    time.Duration
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewHandler builds the dispatch API. queue and db may be nil; without a
// queue the enqueue endpoint answers 503.
func NewHandler(d Dispatcher, queue MessageWriter, db Pinger, timeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: d,
		queue:      queue,
		db:         db,
		timeout:    timeout,
		tracer:     otel.Tracer("api"),
		logger:     logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Post("/v1/dispatch", h.dispatch)
	r.Post("/v1/dispatch/queue", h.enqueue)
	return r
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "dispatch")
	defer span.End()

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, "unknown", http.StatusBadRequest, err)
		return
	}
	span.SetAttributes(attribute.String("dispatch.action", string(req.Action)), attribute.String("account.id", req.AccountID))

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := h.dispatcher.Handle(ctx, req)
	requestLatency.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		status := dispatch.HTTPStatus(err)
		logger := common.WithContext(ctx, h.logger)
		logger.Warn().Err(err).Int("status", status).Str("action", string(req.Action)).Msg("dispatch request failed")
		reqCounter.WithLabelValues(string(req.Action), http.StatusText(status)).Inc()
		if res == nil {
			res = map[string]any{"success": false, "error": dispatch.Reason(err)}
		}
		writeJSON(w, status, res)
		return
	}

	reqCounter.WithLabelValues(string(req.Action), http.StatusText(http.StatusOK)).Inc()
	writeJSON(w, http.StatusOK, res)
}

// enqueue validates the request and hands it to the dispatch worker.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "enqueue")
	defer span.End()

	if h.queue == nil {
		h.respondErr(ctx, w, "unknown", http.StatusServiceUnavailable, errors.New("dispatch queue not configured"))
		return
	}

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, "unknown", http.StatusBadRequest, err)
		return
	}
	if err := dispatch.Validate(req); err != nil {
		h.respondErr(ctx, w, string(req.Action), http.StatusBadRequest, err)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		h.respondErr(ctx, w, string(req.Action), http.StatusInternalServerError, err)
		return
	}
	requestID := uuid.NewString()
	span.SetAttributes(attribute.String("request.id", requestID))

	if err := h.queue.WriteMessages(ctx, kafka.Message{
		Key:     []byte(req.AccountID),
		Value:   payload,
		Headers: []kafka.Header{{Key: "request_id", Value: []byte(requestID)}},
	}); err != nil {
		h.respondErr(ctx, w, string(req.Action), http.StatusInternalServerError, err)
		return
	}

	reqCounter.WithLabelValues(string(req.Action), http.StatusText(http.StatusAccepted)).Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"request_id": requestID})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, action string, status int, err error) {
	logger := common.WithContext(ctx, h.logger)
	logger.Error().Err(err).Int("status", status).Msg("dispatch handler failed")
	reqCounter.WithLabelValues(action, http.StatusText(status)).Inc()
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

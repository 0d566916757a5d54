package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/prospect"
)

type IdentityUpdater interface {
	UpdateIdentityStatus(ctx context.Context, instanceName string, status prospect.IdentityStatus) (prospect.Identity, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Server receives connection-state callbacks from the messaging gateway and
// keeps sending identity status current. Producer is optional.
type Server struct {
	Identities IdentityUpdater
	Producer   MessageWriter
	Logger     zerolog.Logger
}

var (
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospect_webhook_events_total",
		Help: "Total gateway connection callbacks processed",
	}, []string{"state", "status"})
)

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/gateway/{instance}/connection", s.handle)
	return r
}

// connectionPayload accepts both the bare form {"state": "open"} and the
// gateway's envelope {"event": "connection.update", "data": {"state": "open"}}.
type connectionPayload struct {
	State string `json:"state"`
	Data  struct {
		State string `json:"state"`
	} `json:"data"`
}

type IdentityEvent struct {
	AccountID  string    `json:"account_id"`
	IdentityID string    `json:"identity_id"`
	Instance   string    `json:"instance"`
	Status     string    `json:"status"`
	EmittedAt  time.Time `json:"emitted_at"`
}

func (s Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook").Start(r.Context(), "connection-update")
	defer span.End()

	instance := chi.URLParam(r, "instance")
	if instance == "" {
		s.respondErr(ctx, w, http.StatusBadRequest, errors.New("instance path param required"))
		return
	}
	span.SetAttributes(attribute.String("gateway.instance", instance))

	var payload connectionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	state := payload.State
	if state == "" {
		state = payload.Data.State
	}
	status, err := normalize(state)
	if err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}

	identity, err := s.Identities.UpdateIdentityStatus(ctx, instance, status)
	if errors.Is(err, prospect.ErrNotFound) {
		s.respondErr(ctx, w, http.StatusNotFound, fmt.Errorf("unknown instance %q", instance))
		return
	}
	if err != nil {
		s.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}

	if s.Producer != nil {
		body, err := json.Marshal(IdentityEvent{
			AccountID:  identity.AccountID,
			IdentityID: identity.ID,
			Instance:   identity.InstanceName,
			Status:     string(identity.Status),
			EmittedAt:  time.Now().UTC(),
		})
		if err != nil {
			s.respondErr(ctx, w, http.StatusInternalServerError, err)
			return
		}
		if err := s.Producer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(identity.AccountID),
			Value: body,
		}); err != nil {
			// status is already stored; the event is informational
			logger := common.WithContext(ctx, s.Logger)
			logger.Warn().Err(err).Str("instance", instance).Msg("failed to publish identity event")
		}
	}

	logger := common.WithContext(ctx, s.Logger)
	logger.Info().Str("instance", instance).Str("status", string(status)).Msg("identity status updated")
	eventCounter.WithLabelValues(state, "ok").Inc()
	w.WriteHeader(http.StatusAccepted)
}

// normalize maps a gateway connection state to an identity status.
func normalize(state string) (prospect.IdentityStatus, error) {
	switch state {
	case "open":
		return prospect.IdentityConnected, nil
	case "close":
		return prospect.IdentityDisconnected, nil
	case "connecting":
		return prospect.IdentityPending, nil
	case "":
		return "", errors.New("connection state missing")
	default:
		return "", fmt.Errorf("unsupported connection state %q", state)
	}
}

func (s Server) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Int("status", status).Msg("webhook handler error")
	eventCounter.WithLabelValues("unknown", "error").Inc()
	http.Error(w, err.Error(), status)
}

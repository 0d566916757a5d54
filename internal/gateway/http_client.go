package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/prospect-sender/internal/prospect"
)

const maxErrorBody = 2048

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prospect_gateway_request_duration_seconds",
		Help:    "Latency of messaging gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	ErrNotConfigured = errors.New("identity has no gateway base url")
)

// HTTPClient talks to an Evolution-style gateway: one base URL per deployment,
// one named instance per identity, and an apikey header per instance.
type HTTPClient struct {
	Client *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{Client: &http.Client{Timeout: timeout}}
}

type presenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
}

type textRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type textResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (c *HTTPClient) SendPresence(ctx context.Context, identity prospect.Identity, to string, presence Presence) error {
	ctx, span := otel.Tracer("gateway").Start(ctx, "send_presence")
	defer span.End()

	status, body, err := c.post(ctx, identity, "chat/sendPresence", presenceRequest{
		Number:   to,
		Presence: string(presence),
	}, "presence")
	if err != nil {
		span.RecordError(err)
		return err
	}
	if status < 200 || status >= 300 {
		err := &StatusError{StatusCode: status, Body: body}
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *HTTPClient) SendText(ctx context.Context, identity prospect.Identity, to, text string) (Result, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "send_text")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.instance", identity.InstanceName))

	status, body, err := c.post(ctx, identity, "message/sendText", textRequest{Number: to, Text: text}, "text")
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 200 || status >= 300 {
		err := &StatusError{StatusCode: status, Body: body}
		span.RecordError(err)
		return Result{StatusCode: status, Body: body}, err
	}

	res := Result{StatusCode: status, Body: body}
	var parsed textResponse
	if json.Unmarshal([]byte(body), &parsed) == nil {
		res.MessageID = parsed.Key.ID
	}
	return res, nil
}

func (c *HTTPClient) post(ctx context.Context, identity prospect.Identity, path string, payload any, op string) (int, string, error) {
	if identity.BaseURL == "" {
		return 0, "", ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}

	endpoint := strings.TrimRight(identity.BaseURL, "/") + "/" + path + "/" + url.PathEscape(identity.InstanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", identity.Token)

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return 0, "", fmt.Errorf("gateway %s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	requestDuration.WithLabelValues(op, outcome(resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp.StatusCode, string(raw), nil
}

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "rejected"
}

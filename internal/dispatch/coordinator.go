package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/gateway"
	"github.com/example/prospect-sender/internal/lock"
	"github.com/example/prospect-sender/internal/pacer"
	"github.com/example/prospect-sender/internal/phone"
	"github.com/example/prospect-sender/internal/policy"
	"github.com/example/prospect-sender/internal/prospect"
	"github.com/example/prospect-sender/internal/render"
)

const (
	modeSingle = "single"
	modeBatch  = "batch"
	modeTest   = "test"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospect_dispatch_messages_total",
		Help: "Messages attempted by the dispatcher",
	}, []string{"mode", "status"})
	deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospect_dispatch_denied_total",
		Help: "Dispatch invocations refused by the sending policy",
	}, []string{"reason"})

	errInterrupted = errors.New("interrupted before send")

	publishTimeout = 5 * time.Second
	defaultPacer   = pacer.New()
)

type PolicySource interface {
	Policy(ctx context.Context, accountID string) (policy.SendingPolicy, error)
}

type IdentitySource interface {
	Identity(ctx context.Context, accountID string) (prospect.Identity, error)
}

type CandidateSource interface {
	Candidate(ctx context.Context, accountID, candidateID string) (prospect.Candidate, error)
	// PendingCandidates returns at most limit pending candidates, highest
	// score first.
	PendingCandidates(ctx context.Context, accountID string, limit int) ([]prospect.Candidate, error)
}

// SentCounter backs the rolling hourly limit.
type SentCounter interface {
	SentSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

type CampaignSource interface {
	ActiveCampaign(ctx context.Context, accountID string) (prospect.Campaign, error)
}

// Recorder is the only writer of candidate status, the attempt log and the
// daily counter.
type Recorder interface {
	AppendSendAttempt(ctx context.Context, attempt prospect.SendAttempt) error
	MarkCandidate(ctx context.Context, candidateID string, status prospect.CandidateStatus) error
	AdvanceDailyCounter(ctx context.Context, accountID string, delta int) error
}

type Repository interface {
	PolicySource
	IdentitySource
	CandidateSource
	CampaignSource
	SentCounter
	Recorder
}

type EventPublisher interface {
	Publish(ctx context.Context, attempt prospect.SendAttempt) error
}

type Coordinator struct {
	Repo    Repository
	Gateway gateway.Client
	Engine  policy.Engine
	Pacer   *pacer.Pacer
	Locker  lock.Locker
	Events  EventPublisher
	Logger  zerolog.Logger

	CountryCode    string
	LinkBaseURL    string
	GatewayTimeout time.Duration
	// RecordRetry bounds the total time spent retrying one recorder write.
	RecordRetry time.Duration
	Now         func() time.Time
}

type outcome struct {
	sent        bool
	interrupted bool
	kind        Kind
	err         error
}

func (o outcome) result(id string) RecipientResult {
	r := RecipientResult{ID: id, Success: o.sent}
	if o.err != nil {
		r.Error = o.err.Error()
	}
	return r
}

// Handle validates req and routes it to the matching operation. The returned
// value is the response body for the action.
func (c *Coordinator) Handle(ctx context.Context, req Request) (any, error) {
	if err := Validate(req); err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	switch req.Action {
	case ActionSendSingle:
		return c.SendSingle(ctx, req.AccountID, req.RecipientID, req.SkipRestrictions)
	case ActionSendBatch:
		return c.SendBatch(ctx, req.AccountID, req.BatchSize)
	case ActionSendTest:
		return c.SendTest(ctx, req.AccountID, req.TestPhone, req.TestMessage)
	default:
		return nil, newError(KindValidation, "unsupported action "+string(req.Action), nil)
	}
}

// SendSingle sends to one recipient. With skipRestrictions the policy gate is
// not consulted.
func (c *Coordinator) SendSingle(ctx context.Context, accountID, recipientID string, skipRestrictions bool) (SingleResult, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "send_single")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("candidate.id", recipientID),
		attribute.Bool("dispatch.skip_restrictions", skipRestrictions),
	)

	identity, err := c.identity(ctx, accountID)
	if err != nil {
		return singleFailure(span, err)
	}
	release, err := c.acquire(ctx, identity)
	if err != nil {
		return singleFailure(span, err)
	}
	defer release()

	p, err := c.policy(ctx, accountID)
	if err != nil {
		return singleFailure(span, err)
	}
	// skipRestrictions marks a human-initiated send.
	if d := c.Engine.CheckGate(p, skipRestrictions, c.now()); !d.Allowed {
		deniedTotal.WithLabelValues(string(d.Reason)).Inc()
		return singleFailure(span, denied(d))
	}
	if !skipRestrictions {
		if _, err := c.hourlyLeft(ctx, accountID, p); err != nil {
			return singleFailure(span, err)
		}
	}

	cand, err := c.Repo.Candidate(ctx, accountID, recipientID)
	if errors.Is(err, prospect.ErrNotFound) {
		return singleFailure(span, newError(KindNotFound, "recipient not found", err))
	}
	if err != nil {
		return singleFailure(span, newError(KindInternal, "load recipient", err))
	}
	if cand.Status == prospect.CandidateSent {
		return singleFailure(span, newError(KindValidation, "recipient was already contacted", nil))
	}
	campaign, err := c.campaign(ctx, accountID)
	if err != nil {
		return singleFailure(span, err)
	}

	ctx, cancel := context.WithTimeout(ctx, Budget(1, 0, c.GatewayTimeout))
	defer cancel()

	out := c.process(ctx, modeSingle, identity, p, campaign, cand)
	switch {
	case out.sent:
		c.advance(ctx, accountID, 1)
		return SingleResult{Success: true}, nil
	case out.interrupted:
		return singleFailure(span, newError(KindInternal, "dispatch interrupted", out.err))
	default:
		return singleFailure(span, newError(out.kind, out.err.Error(), out.err))
	}
}

// SendBatch sends to up to batchSize pending recipients, one at a time, with
// a random pause between consecutive sends. The quota is computed once at the
// start and the daily counter is advanced once at the end.
func (c *Coordinator) SendBatch(ctx context.Context, accountID string, batchSize int) (BatchResult, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "send_batch")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.Int("dispatch.requested", batchSize))

	if batchSize <= 0 || batchSize > MaxBatchSize {
		return batchFailure(span, newError(KindValidation, fmt.Sprintf("batchSize must be between 1 and %d", MaxBatchSize), nil))
	}

	identity, err := c.identity(ctx, accountID)
	if err != nil {
		return batchFailure(span, err)
	}
	release, err := c.acquire(ctx, identity)
	if err != nil {
		return batchFailure(span, err)
	}
	defer release()

	p, err := c.policy(ctx, accountID)
	if err != nil {
		return batchFailure(span, err)
	}
	if d := c.Engine.CheckGate(p, false, c.now()); !d.Allowed {
		deniedTotal.WithLabelValues(string(d.Reason)).Inc()
		return batchFailure(span, denied(d))
	}

	// the gate guarantees some daily quota is left
	actual := min(batchSize, policy.EffectiveLimit(p)-p.TotalSentToday)
	hourly, err := c.hourlyLeft(ctx, accountID, p)
	if err != nil {
		return batchFailure(span, err)
	}
	actual = min(actual, hourly)
	span.SetAttributes(attribute.Int("dispatch.batch_size", actual))

	candidates, err := c.Repo.PendingCandidates(ctx, accountID, actual)
	if err != nil {
		return batchFailure(span, newError(KindInternal, "load pending recipients", err))
	}
	if len(candidates) > actual {
		candidates = candidates[:actual]
	}
	campaign, err := c.campaign(ctx, accountID)
	if err != nil {
		return batchFailure(span, err)
	}

	ctx, cancel := context.WithTimeout(ctx, Budget(len(candidates), p.MaxDelaySeconds, c.GatewayTimeout))
	defer cancel()

	res := BatchResult{Success: true, Results: make([]RecipientResult, 0, len(candidates))}
	var stopErr error
	for i, cand := range candidates {
		if i > 0 {
			pc := c.pace()
			if err := pc.Wait(ctx, pc.NextDelay(p.MinDelaySeconds, p.MaxDelaySeconds)); err != nil {
				stopErr = err
				break
			}
		}
		out := c.process(ctx, modeBatch, identity, p, campaign, cand)
		if out.interrupted {
			stopErr = out.err
			break
		}
		if out.sent {
			res.Sent++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, out.result(cand.ID))
	}

	c.advance(ctx, accountID, res.Sent)
	span.SetAttributes(attribute.Int("dispatch.sent", res.Sent), attribute.Int("dispatch.failed", res.Failed))

	if stopErr != nil {
		span.RecordError(stopErr)
		res.Success = false
		return res, newError(KindInternal, "dispatch interrupted", stopErr)
	}
	return res, nil
}

// SendTest sends a literal message to a literal number through the account's
// identity. Nothing is recorded and no quota is used.
func (c *Coordinator) SendTest(ctx context.Context, accountID, to, message string) (SingleResult, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "send_test")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	identity, err := c.identity(ctx, accountID)
	if err != nil {
		return singleFailure(span, err)
	}
	number, err := phone.Normalize(to, c.CountryCode)
	if err != nil {
		return singleFailure(span, newError(KindValidation, err.Error(), err))
	}
	release, err := c.acquire(ctx, identity)
	if err != nil {
		return singleFailure(span, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, Budget(1, 0, c.GatewayTimeout))
	defer cancel()

	if err := c.send(ctx, identity, number, message); err != nil {
		messagesTotal.WithLabelValues(modeTest, string(prospect.AttemptFailed)).Inc()
		if errors.Is(err, errInterrupted) {
			return singleFailure(span, newError(KindInternal, "dispatch interrupted", err))
		}
		return singleFailure(span, newError(KindGateway, err.Error(), err))
	}
	messagesTotal.WithLabelValues(modeTest, string(prospect.AttemptSent)).Inc()
	return SingleResult{Success: true}, nil
}

// Budget is the longest time a dispatch of n messages is expected to take:
// the inter-message pause, the typing simulation and two gateway calls per
// message.
func Budget(n, maxDelaySeconds int, gatewayTimeout time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	if maxDelaySeconds < 0 {
		maxDelaySeconds = 0
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 15 * time.Second
	}
	per := time.Duration(maxDelaySeconds)*time.Second + pacer.TypingMax + 2*gatewayTimeout
	return time.Duration(n) * per
}

// process runs one recipient through normalize, render, send and record.
func (c *Coordinator) process(ctx context.Context, mode string, identity prospect.Identity, p policy.SendingPolicy, campaign prospect.Campaign, cand prospect.Candidate) outcome {
	to, err := phone.Normalize(cand.Phone, c.CountryCode)
	if err != nil {
		c.record(ctx, mode, cand, "", err)
		return outcome{kind: KindValidation, err: err}
	}

	body := render.Message(p.MessageTemplate, cand, campaign, c.LinkBaseURL)
	if err := c.send(ctx, identity, to, body); err != nil {
		if errors.Is(err, errInterrupted) {
			return outcome{interrupted: true, err: err}
		}
		c.record(ctx, mode, cand, body, err)
		return outcome{kind: KindGateway, err: err}
	}
	c.record(ctx, mode, cand, body, nil)
	return outcome{sent: true}
}

// send signals typing, waits like a human would and sends the text. Presence
// failures are only logged.
func (c *Coordinator) send(ctx context.Context, identity prospect.Identity, to, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}
	if err := c.Gateway.SendPresence(ctx, identity, to, gateway.PresenceComposing); err != nil {
		logger := common.WithContext(ctx, c.Logger)
		logger.Warn().Err(err).Str("instance", identity.InstanceName).Msg("presence signal failed")
	}
	pc := c.pace()
	if err := pc.Wait(ctx, pc.TypingDuration()); err != nil {
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}
	_, err := c.Gateway.SendText(ctx, identity, to, body)
	return err
}

// record writes the outcome of one attempt. Writes survive cancellation of
// ctx because the message may already have left.
func (c *Coordinator) record(ctx context.Context, mode string, cand prospect.Candidate, content string, sendErr error) {
	ctx = context.WithoutCancel(ctx)
	attempt := prospect.SendAttempt{
		ID:          uuid.NewString(),
		CandidateID: cand.ID,
		AccountID:   cand.AccountID,
		Content:     content,
		Status:      prospect.AttemptSent,
		CreatedAt:   c.now().UTC(),
	}
	status := prospect.CandidateSent
	if sendErr != nil {
		attempt.Status = prospect.AttemptFailed
		attempt.Error = sendErr.Error()
		status = prospect.CandidateFailed
	}
	messagesTotal.WithLabelValues(mode, string(attempt.Status)).Inc()

	logger := common.WithContext(ctx, c.Logger).With().
		Str("account_id", cand.AccountID).
		Str("candidate_id", cand.ID).
		Str("status", string(attempt.Status)).
		Logger()
	if sendErr != nil {
		logger.Warn().Err(sendErr).Msg("send failed")
	} else {
		logger.Info().Msg("message sent")
	}

	if err := c.retry(ctx, func(ctx context.Context) error {
		return c.Repo.MarkCandidate(ctx, cand.ID, status)
	}); err != nil {
		logger.Error().Err(err).Msg("failed to update recipient status")
	}
	if err := c.retry(ctx, func(ctx context.Context) error {
		return c.Repo.AppendSendAttempt(ctx, attempt)
	}); err != nil {
		logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to append send attempt")
	}
	if c.Events != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := c.Events.Publish(pubCtx, attempt)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to publish send event")
		}
	}
}

func (c *Coordinator) advance(ctx context.Context, accountID string, delta int) {
	if delta <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.retry(ctx, func(ctx context.Context) error {
		return c.Repo.AdvanceDailyCounter(ctx, accountID, delta)
	}); err != nil {
		logger := common.WithContext(ctx, c.Logger)
		logger.Error().Err(err).Str("account_id", accountID).Int("delta", delta).Msg("failed to advance daily counter")
	}
}

func (c *Coordinator) retry(ctx context.Context, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.RecordRetry
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Second
	}
	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := op(attemptCtx)
		if errors.Is(err, prospect.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Coordinator) identity(ctx context.Context, accountID string) (prospect.Identity, error) {
	identity, err := c.Repo.Identity(ctx, accountID)
	if errors.Is(err, prospect.ErrNotFound) {
		return prospect.Identity{}, newError(KindConfigurationMissing, "no sending identity configured", err)
	}
	if err != nil {
		return prospect.Identity{}, newError(KindInternal, "load sending identity", err)
	}
	if !identity.Connected() {
		return prospect.Identity{}, newError(KindConfigurationMissing,
			fmt.Sprintf("sending identity %s is not connected (%s)", identity.InstanceName, identity.Status), nil)
	}
	return identity, nil
}

func (c *Coordinator) policy(ctx context.Context, accountID string) (policy.SendingPolicy, error) {
	p, err := c.Repo.Policy(ctx, accountID)
	if errors.Is(err, prospect.ErrNotFound) {
		return policy.SendingPolicy{}, newError(KindConfigurationMissing, "sending policy not configured", err)
	}
	if err != nil {
		return policy.SendingPolicy{}, newError(KindInternal, "load sending policy", err)
	}
	return p, nil
}

// hourlyLeft is how many more messages the rolling hour allows. Without an
// hourly limit it returns MaxBatchSize.
func (c *Coordinator) hourlyLeft(ctx context.Context, accountID string, p policy.SendingPolicy) (int, error) {
	if p.MessagesPerHour <= 0 {
		return MaxBatchSize, nil
	}
	sent, err := c.Repo.SentSince(ctx, accountID, c.now().Add(-time.Hour))
	if err != nil {
		return 0, newError(KindInternal, "count messages sent in the last hour", err)
	}
	left := p.MessagesPerHour - sent
	if left <= 0 {
		deniedTotal.WithLabelValues(string(policy.ReasonHourlyLimit)).Inc()
		return 0, denied(policy.HourlyLimitReached(p.MessagesPerHour))
	}
	return left, nil
}

func (c *Coordinator) campaign(ctx context.Context, accountID string) (prospect.Campaign, error) {
	campaign, err := c.Repo.ActiveCampaign(ctx, accountID)
	if errors.Is(err, prospect.ErrNotFound) {
		return prospect.Campaign{}, nil
	}
	if err != nil {
		return prospect.Campaign{}, newError(KindInternal, "load campaign", err)
	}
	return campaign, nil
}

func (c *Coordinator) acquire(ctx context.Context, identity prospect.Identity) (func(), error) {
	if c.Locker == nil {
		return func() {}, nil
	}
	release, err := c.Locker.Acquire(ctx, "identity:"+identity.ID)
	if err != nil {
		return nil, newError(KindInternal, "acquire identity lock", err)
	}
	return release, nil
}

func (c *Coordinator) pace() *pacer.Pacer {
	if c.Pacer == nil {
		return defaultPacer
	}
	return c.Pacer
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func singleFailure(span trace.Span, err error) (SingleResult, error) {
	span.RecordError(err)
	return SingleResult{Success: false, Error: Reason(err)}, err
}

func batchFailure(span trace.Span, err error) (BatchResult, error) {
	span.RecordError(err)
	return BatchResult{Success: false, Error: Reason(err)}, err
}

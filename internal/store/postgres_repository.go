package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/prospect-sender/internal/policy"
	"github.com/example/prospect-sender/internal/prospect"
)

// ErrNotFound is the same sentinel the dispatcher checks for.
var ErrNotFound = prospect.ErrNotFound

const selectPolicy = `
SELECT account_id, auto_send_enabled, send_start_hour, send_end_hour, send_days,
daily_limit, messages_per_hour, min_delay_seconds, max_delay_seconds,
warmup_enabled, warmup_day, warmup_increment_percent, message_template, total_sent_today
FROM sending_policies
WHERE account_id = $1
`

// Connected identities win over others; the most recently updated wins ties.
const selectIdentity = `
SELECT id, account_id, instance_name, status, base_url, token
FROM sending_identities
WHERE account_id = $1
ORDER BY (status = 'connected') DESC, updated_at DESC
LIMIT 1
`

const selectProspect = `
SELECT id, account_id, phone, data, COALESCE(precomputed_message, ''), score, status, created_at
FROM prospects
WHERE account_id = $1 AND id = $2
`

const selectPendingProspects = `
SELECT id, account_id, phone, data, COALESCE(precomputed_message, ''), score, status, created_at
FROM prospects
WHERE account_id = $1 AND status = 'pending'
ORDER BY score DESC, created_at ASC
LIMIT $2
`

const selectActiveCampaign = `
SELECT headline, benefits, offer
FROM campaigns
WHERE account_id = $1 AND active
ORDER BY created_at DESC
LIMIT 1
`

const insertSendAttempt = `
INSERT INTO send_attempts (
id,
prospect_id,
account_id,
content,
status,
error,
created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
`

// A sent prospect is terminal.
const updateProspectStatus = `
UPDATE prospects
SET status = $2, updated_at = now()
WHERE id = $1 AND status <> 'sent'
`

const advanceDailyCounter = `
UPDATE sending_policies
SET total_sent_today = total_sent_today + $2, updated_at = now()
WHERE account_id = $1
`

const countSentSince = `
SELECT count(*)
FROM send_attempts
WHERE account_id = $1 AND status = 'sent' AND created_at >= $2
`

const updateIdentityStatus = `
UPDATE sending_identities
SET status = $2, updated_at = now()
WHERE instance_name = $1
RETURNING id, account_id, instance_name, status, base_url, token
`

const selectAutoSendAccounts = `
SELECT p.account_id
FROM sending_policies p
WHERE p.auto_send_enabled
AND EXISTS (
	SELECT 1 FROM sending_identities i
	WHERE i.account_id = p.account_id AND i.status = 'connected'
)
ORDER BY p.account_id
`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Policy(ctx context.Context, accountID string) (policy.SendingPolicy, error) {
	var (
		p    policy.SendingPolicy
		days []int16
	)
	err := r.pool.QueryRow(ctx, selectPolicy, accountID).Scan(
		&p.AccountID,
		&p.AutoSendEnabled,
		&p.SendStartHour,
		&p.SendEndHour,
		&days,
		&p.DailyLimit,
		&p.MessagesPerHour,
		&p.MinDelaySeconds,
		&p.MaxDelaySeconds,
		&p.WarmupEnabled,
		&p.WarmupDay,
		&p.WarmupIncrementPercent,
		&p.MessageTemplate,
		&p.TotalSentToday,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.SendingPolicy{}, ErrNotFound
	}
	if err != nil {
		return policy.SendingPolicy{}, fmt.Errorf("select sending policy: %w", err)
	}
	p.SendDays = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		p.SendDays = append(p.SendDays, time.Weekday(d))
	}
	return p, nil
}

func (r *PostgresRepository) Identity(ctx context.Context, accountID string) (prospect.Identity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx, selectIdentity, accountID))
	if err != nil {
		return prospect.Identity{}, fmt.Errorf("select sending identity: %w", err)
	}
	return identity, nil
}

// UpdateIdentityStatus sets the connection status of the identity backing a
// gateway instance.
func (r *PostgresRepository) UpdateIdentityStatus(ctx context.Context, instanceName string, status prospect.IdentityStatus) (prospect.Identity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx, updateIdentityStatus, instanceName, string(status)))
	if err != nil {
		return prospect.Identity{}, fmt.Errorf("update identity status: %w", err)
	}
	return identity, nil
}

func (r *PostgresRepository) Candidate(ctx context.Context, accountID, candidateID string) (prospect.Candidate, error) {
	c, err := scanCandidate(r.pool.QueryRow(ctx, selectProspect, accountID, candidateID))
	if err != nil {
		return prospect.Candidate{}, fmt.Errorf("select prospect: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) PendingCandidates(ctx context.Context, accountID string, limit int) ([]prospect.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, selectPendingProspects, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending prospects: %w", err)
	}
	defer rows.Close()

	out := make([]prospect.Candidate, 0, limit)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending prospect: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending prospects: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ActiveCampaign(ctx context.Context, accountID string) (prospect.Campaign, error) {
	var c prospect.Campaign
	err := r.pool.QueryRow(ctx, selectActiveCampaign, accountID).Scan(&c.Headline, &c.Benefits, &c.Offer)
	if errors.Is(err, pgx.ErrNoRows) {
		return prospect.Campaign{}, ErrNotFound
	}
	if err != nil {
		return prospect.Campaign{}, fmt.Errorf("select campaign: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) AppendSendAttempt(ctx context.Context, a prospect.SendAttempt) error {
	_, err := r.pool.Exec(ctx, insertSendAttempt,
		a.ID,
		a.CandidateID,
		a.AccountID,
		a.Content,
		string(a.Status),
		a.Error,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert send attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkCandidate(ctx context.Context, candidateID string, status prospect.CandidateStatus) error {
	if _, err := r.pool.Exec(ctx, updateProspectStatus, candidateID, string(status)); err != nil {
		return fmt.Errorf("update prospect status: %w", err)
	}
	return nil
}

// AdvanceDailyCounter only ever increments. The daily reset happens outside
// this service.
func (r *PostgresRepository) AdvanceDailyCounter(ctx context.Context, accountID string, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("advance daily counter: delta must be positive, got %d", delta)
	}
	tag, err := r.pool.Exec(ctx, advanceDailyCounter, accountID, delta)
	if err != nil {
		return fmt.Errorf("advance daily counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SentSince counts messages delivered to the gateway for accountID at or
// after since.
func (r *PostgresRepository) SentSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countSentSince, accountID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sent attempts: %w", err)
	}
	return n, nil
}

// AutoSendAccounts lists accounts with automation enabled and a connected
// identity.
func (r *PostgresRepository) AutoSendAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, selectAutoSendAccounts)
	if err != nil {
		return nil, fmt.Errorf("select auto-send accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect auto-send accounts: %w", err)
	}
	return ids, nil
}

func scanIdentity(row pgx.Row) (prospect.Identity, error) {
	var (
		identity prospect.Identity
		status   string
	)
	err := row.Scan(&identity.ID, &identity.AccountID, &identity.InstanceName, &status, &identity.BaseURL, &identity.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return prospect.Identity{}, ErrNotFound
	}
	if err != nil {
		return prospect.Identity{}, err
	}
	identity.Status = prospect.IdentityStatus(status)
	return identity, nil
}

func scanCandidate(row pgx.Row) (prospect.Candidate, error) {
	var (
		c      prospect.Candidate
		data   []byte
		status string
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.Phone, &data, &c.PrecomputedMessage, &c.Score, &status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return prospect.Candidate{}, ErrNotFound
	}
	if err != nil {
		return prospect.Candidate{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.Data); err != nil {
			return prospect.Candidate{}, fmt.Errorf("decode prospect data: %w", err)
		}
	}
	c.Status = prospect.CandidateStatus(status)
	return c, nil
}

var ErrNotConfigured = errors.New("postgres repository requires a non-nil pool")

// OpenRepository is NewPostgresRepository with a nil-pool check.
func OpenRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return NewPostgresRepository(pool), nil
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/example/prospect-sender/internal/dispatch"
)

type AccountSource interface {
	AutoSendAccounts(ctx context.Context) ([]string, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Scheduler periodically queues a send_batch request for every account with
// automation enabled. Gating happens when the request is executed.
type Scheduler struct {
	Accounts  AccountSource
	Writer    MessageWriter
	Interval  time.Duration
	BatchSize int
	Logger    zerolog.Logger
}

// Run enqueues once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Accounts == nil || s.Writer == nil {
		return errors.New("scheduler requires an account source and a writer")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := s.Tick(ctx); err != nil {
			s.Logger.Error().Err(err).Msg("failed to enqueue scheduled batches")
		} else if n > 0 {
			s.Logger.Info().Int("accounts", n).Msg("scheduled batches enqueued")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick enqueues one batch request per eligible account and returns how many
// were written.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	accounts, err := s.Accounts.AutoSendAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list auto-send accounts: %w", err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	size := s.BatchSize
	if size <= 0 {
		size = 10
	}
	msgs := make([]kafka.Message, 0, len(accounts))
	for _, id := range accounts {
		payload, err := json.Marshal(dispatch.Request{
			Action:    dispatch.ActionSendBatch,
			AccountID: id,
			BatchSize: size,
		})
		if err != nil {
			return 0, fmt.Errorf("marshal batch request: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(id), Value: payload})
	}
	if err := s.Writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write batch requests: %w", err)
	}
	return len(msgs), nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/prospect-sender/internal/prospect"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher emits one event per recorded send attempt.
type Publisher struct {
	Writer MessageWriter
	Now    func() time.Time
}

type SendEvent struct {
	AttemptID   string    `json:"attempt_id"`
	AccountID   string    `json:"account_id"`
	CandidateID string    `json:"candidate_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	EmittedAt   time.Time `json:"emitted_at"`
}

func (p *Publisher) Publish(ctx context.Context, attempt prospect.SendAttempt) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	event := SendEvent{
		AttemptID:   attempt.ID,
		AccountID:   attempt.AccountID,
		CandidateID: attempt.CandidateID,
		Status:      string(attempt.Status),
		Error:       attempt.Error,
		EmittedAt:   now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(attempt.AccountID), Value: payload})
}

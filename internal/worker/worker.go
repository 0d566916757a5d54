package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/prospect-sender/internal/common"
	"github.com/example/prospect-sender/internal/dispatch"
)

// MessageReader is the subset of *kafka.Reader the worker uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, req dispatch.Request) (any, error)
}

// Worker executes queued dispatch requests one at a time. Requests for the
// same account share a partition, so they never overlap within a group.
type Worker struct {
	ReaderFactory func() MessageReader
	Handler       Handler
	Timeout       time.Duration
	Logger        zerolog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.ReaderFactory == nil || w.Handler == nil {
		return errors.New("worker requires a reader factory and a handler")
	}
	reader := w.ReaderFactory()
	defer reader.Close()

	tracer := otel.Tracer("worker")

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		var req dispatch.Request
		if err := json.Unmarshal(m.Value, &req); err != nil {
			w.Logger.Error().Err(err).Msg("failed to decode dispatch request")
			_ = reader.CommitMessages(ctx, m)
			continue
		}

		spanCtx, span := tracer.Start(ctx, "dispatch_request")
		span.SetAttributes(
			attribute.String("dispatch.action", string(req.Action)),
			attribute.String("account.id", req.AccountID),
		)
		w.handle(spanCtx, req)
		span.End()

		// leave the offset uncommitted on shutdown so the request is redelivered
		if ctx.Err() != nil {
			return nil
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, req dispatch.Request) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	logger := common.WithContext(ctx, w.Logger).With().
		Str("action", string(req.Action)).
		Str("account_id", req.AccountID).
		Logger()

	res, err := w.Handler.Handle(ctx, req)
	if err != nil {
		var de *dispatch.Error
		if errors.As(err, &de) && de.Kind != dispatch.KindInternal && de.Kind != dispatch.KindGateway {
			logger.Warn().Str("kind", string(de.Kind)).Str("reason", de.Reason).Msg("dispatch request not executed")
			return
		}
		logger.Error().Err(err).Msg("dispatch request failed")
		return
	}
	if batch, ok := res.(dispatch.BatchResult); ok {
		logger.Info().Int("sent", batch.Sent).Int("failed", batch.Failed).Msg("batch dispatched")
		return
	}
	logger.Info().Msg("dispatch request completed")
}

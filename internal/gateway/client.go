package gateway

import (
	"context"
	"fmt"

	"github.com/example/prospect-sender/internal/prospect"
)

type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Client is the messaging transport used by the dispatcher. Implementations
// never retry.
type Client interface {
	SendPresence(ctx context.Context, identity prospect.Identity, to string, presence Presence) error
	SendText(ctx context.Context, identity prospect.Identity, to, body string) (Result, error)
}

type Result struct {
	StatusCode int
	MessageID  string
	Body       string
}

// StatusError carries a non-success gateway response verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

package prospect

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type IdentityStatus string

const (
	IdentityConnected    IdentityStatus = "connected"
	IdentityDisconnected IdentityStatus = "disconnected"
	IdentityPending      IdentityStatus = "pending"
)

// Identity is a messaging-gateway session owned by one account.
type Identity struct {
	ID           string
	AccountID    string
	InstanceName string
	Status       IdentityStatus
	BaseURL      string
	Token        string
}

func (i Identity) Connected() bool {
	return i.Status == IdentityConnected
}

type CandidateStatus string

const (
	CandidatePending CandidateStatus = "pending"
	CandidateSent    CandidateStatus = "sent"
	CandidateFailed  CandidateStatus = "failed"
)

// RecipientData is the per-recipient substitution data used by the renderer.
type RecipientData struct {
	CompanyName      string `json:"company_name"`
	City             string `json:"city"`
	Niche            string `json:"niche"`
	HasWebsite       bool   `json:"has_website"`
	HasOnlineBooking bool   `json:"has_online_booking"`
	HasSocialProfile bool   `json:"has_social_profile"`
	HasReviews       bool   `json:"has_reviews"`
}

type Candidate struct {
	ID                 string
	AccountID          string
	Phone              string
	Data               RecipientData
	PrecomputedMessage string
	Score              int
	Status             CandidateStatus
	CreatedAt          time.Time
}

type Campaign struct {
	Headline string
	Benefits string
	Offer    string
}

type AttemptStatus string

const (
	AttemptSent   AttemptStatus = "sent"
	AttemptFailed AttemptStatus = "failed"
)

// SendAttempt is one append-only audit entry per attempted send.
type SendAttempt struct {
	ID          string        `json:"id"`
	CandidateID string        `json:"candidate_id"`
	AccountID   string        `json:"account_id"`
	Content     string        `json:"content"`
	Status      AttemptStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

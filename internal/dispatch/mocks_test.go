package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/example/prospect-sender/internal/gateway"
	"github.com/example/prospect-sender/internal/policy"
	"github.com/example/prospect-sender/internal/prospect"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Policy(ctx context.Context, accountID string) (policy.SendingPolicy, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(policy.SendingPolicy), args.Error(1)
}

func (m *MockRepository) Identity(ctx context.Context, accountID string) (prospect.Identity, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(prospect.Identity), args.Error(1)
}

func (m *MockRepository) Candidate(ctx context.Context, accountID, candidateID string) (prospect.Candidate, error) {
	args := m.Called(ctx, accountID, candidateID)
	return args.Get(0).(prospect.Candidate), args.Error(1)
}

func (m *MockRepository) PendingCandidates(ctx context.Context, accountID string, limit int) ([]prospect.Candidate, error) {
	args := m.Called(ctx, accountID, limit)
	return args.Get(0).([]prospect.Candidate), args.Error(1)
}

func (m *MockRepository) ActiveCampaign(ctx context.Context, accountID string) (prospect.Campaign, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(prospect.Campaign), args.Error(1)
}

// SentSince accepts either an int or a func() int return value, the latter
// for counts that change while a test runs.
func (m *MockRepository) SentSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	args := m.Called(ctx, accountID, since)
	if fn, ok := args.Get(0).(func() int); ok {
		return fn(), args.Error(1)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) AppendSendAttempt(ctx context.Context, attempt prospect.SendAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockRepository) MarkCandidate(ctx context.Context, candidateID string, status prospect.CandidateStatus) error {
	return m.Called(ctx, candidateID, status).Error(0)
}

func (m *MockRepository) AdvanceDailyCounter(ctx context.Context, accountID string, delta int) error {
	return m.Called(ctx, accountID, delta).Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) SendPresence(ctx context.Context, identity prospect.Identity, to string, presence gateway.Presence) error {
	return m.Called(ctx, identity, to, presence).Error(0)
}

func (m *MockGateway) SendText(ctx context.Context, identity prospect.Identity, to, body string) (gateway.Result, error) {
	args := m.Called(ctx, identity, to, body)
	return args.Get(0).(gateway.Result), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, attempt prospect.SendAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

// recordingSleeper captures every wait the pacer is asked for.
type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	onWait func(n int) error
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()
	if s.onWait != nil {
		if err := s.onWait(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *recordingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waits)
}

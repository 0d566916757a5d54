package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		name   string
		policy SendingPolicy
		want   int
	}{
		{name: "warmup disabled", policy: SendingPolicy{DailyLimit: 100, WarmupDay: 1, WarmupIncrementPercent: 20}, want: 100},
		{name: "day 1 at 20%", policy: SendingPolicy{DailyLimit: 100, WarmupEnabled: true, WarmupDay: 1, WarmupIncrementPercent: 20}, want: 20},
		{name: "day 5 reaches cap", policy: SendingPolicy{DailyLimit: 100, WarmupEnabled: true, WarmupDay: 5, WarmupIncrementPercent: 20}, want: 100},
		{name: "day 10 stays capped", policy: SendingPolicy{DailyLimit: 100, WarmupEnabled: true, WarmupDay: 10, WarmupIncrementPercent: 20}, want: 100},
		{name: "rounds up", policy: SendingPolicy{DailyLimit: 50, WarmupEnabled: true, WarmupDay: 1, WarmupIncrementPercent: 15}, want: 8},
		{name: "day zero treated as day one", policy: SendingPolicy{DailyLimit: 40, WarmupEnabled: true, WarmupDay: 0, WarmupIncrementPercent: 10}, want: 4},
		{name: "zero percent blocks", policy: SendingPolicy{DailyLimit: 40, WarmupEnabled: true, WarmupDay: 3, WarmupIncrementPercent: 0}, want: 0},
		{name: "no daily limit", policy: SendingPolicy{DailyLimit: 0}, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EffectiveLimit(tc.policy))
		})
	}
}

func TestEffectiveLimitMonotonicAndCapped(t *testing.T) {
	for _, limit := range []int{1, 7, 50, 100, 333} {
		for pct := 0; pct <= 100; pct += 5 {
			prev := -1
			for day := 1; day <= 30; day++ {
				p := SendingPolicy{DailyLimit: limit, WarmupEnabled: true, WarmupDay: day, WarmupIncrementPercent: pct}
				got := EffectiveLimit(p)
				require.GreaterOrEqual(t, got, prev, "limit=%d pct=%d day=%d", limit, pct, day)
				require.LessOrEqual(t, got, limit, "limit=%d pct=%d day=%d", limit, pct, day)
				prev = got
			}
		}
	}
}

func TestIsWithinWindow(t *testing.T) {
	e := NewEngine(time.UTC)
	at := func(h int) time.Time { return time.Date(2024, 3, 4, h, 30, 0, 0, time.UTC) }

	assert.False(t, e.IsWithinWindow(9, 18, at(8)))
	assert.True(t, e.IsWithinWindow(9, 18, at(9)))
	assert.True(t, e.IsWithinWindow(9, 18, at(17)))
	assert.False(t, e.IsWithinWindow(9, 18, at(18)))

	assert.True(t, e.IsWithinWindow(22, 2, at(23)))
	assert.True(t, e.IsWithinWindow(22, 2, at(1)))
	assert.False(t, e.IsWithinWindow(22, 2, at(2)))
	assert.False(t, e.IsWithinWindow(10, 10, at(10)))
}

func TestIsWithinWindowUsesBusinessTimezone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	e := NewEngine(loc)
	// 20:00 UTC is 17:00 in the business timezone.
	now := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	assert.True(t, e.IsWithinWindow(9, 18, now))
	assert.False(t, NewEngine(time.UTC).IsWithinWindow(9, 18, now))
}

func TestIsAllowedDay(t *testing.T) {
	e := NewEngine(time.UTC)
	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

	assert.True(t, e.IsAllowedDay(weekdays, monday))
	assert.False(t, e.IsAllowedDay(weekdays, sunday))
	assert.False(t, e.IsAllowedDay(nil, monday))
}

func TestCheckGate(t *testing.T) {
	e := NewEngine(time.UTC)
	monday10 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	base := SendingPolicy{
		AutoSendEnabled: true,
		SendStartHour:   9,
		SendEndHour:     18,
		SendDays:        weekdays,
		DailyLimit:      10,
	}

	tests := []struct {
		name    string
		mutate  func(p *SendingPolicy)
		now     time.Time
		manual  bool
		allowed bool
		reason  Reason
		message string
	}{
		{name: "allowed", now: monday10, allowed: true},
		{
			name:    "disabled",
			mutate:  func(p *SendingPolicy) { p.AutoSendEnabled = false },
			now:     monday10,
			reason:  ReasonDisabled,
			message: "automation disabled",
		},
		{
			name:    "end hour excluded",
			now:     time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC),
			reason:  ReasonOutsideWindow,
			message: "outside sending hours (09:00-18:00)",
		},
		{
			name:    "weekend",
			now:     time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC),
			reason:  ReasonDayNotAllowed,
			message: "sending not allowed on Sunday",
		},
		{
			name:    "daily limit",
			mutate:  func(p *SendingPolicy) { p.TotalSentToday = 10 },
			now:     monday10,
			reason:  ReasonDailyLimit,
			message: "daily limit reached (10)",
		},
		{
			name: "first failure wins",
			mutate: func(p *SendingPolicy) {
				p.AutoSendEnabled = false
				p.TotalSentToday = 99
			},
			now:     time.Date(2024, 3, 3, 22, 0, 0, 0, time.UTC),
			reason:  ReasonDisabled,
			message: "automation disabled",
		},
		{
			name: "manual bypasses everything",
			mutate: func(p *SendingPolicy) {
				p.AutoSendEnabled = false
				p.TotalSentToday = 99
			},
			now:     time.Date(2024, 3, 3, 22, 0, 0, 0, time.UTC),
			manual:  true,
			allowed: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			if tc.mutate != nil {
				tc.mutate(&p)
			}
			d := e.CheckGate(p, tc.manual, tc.now)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.message, d.Message)
		})
	}
}

func TestRemaining(t *testing.T) {
	p := SendingPolicy{DailyLimit: 100, WarmupEnabled: true, WarmupDay: 1, WarmupIncrementPercent: 20, TotalSentToday: 17}
	assert.Equal(t, 3, p.Remaining())
}

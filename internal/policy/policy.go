package policy

import (
	"fmt"
	"time"
)

// SendingPolicy is the per-account sending configuration together with the
// running daily counter.
type SendingPolicy struct {
	AccountID              string
	AutoSendEnabled        bool
	SendStartHour          int
	SendEndHour            int
	SendDays               []time.Weekday
	DailyLimit             int
	MessagesPerHour        int
	MinDelaySeconds        int
	MaxDelaySeconds        int
	WarmupEnabled          bool
	WarmupDay              int
	WarmupIncrementPercent int
	MessageTemplate        string
	TotalSentToday         int
}

// Remaining is how many messages may still be sent today.
func (p SendingPolicy) Remaining() int {
	return EffectiveLimit(p) - p.TotalSentToday
}

// EffectiveLimit applies the warm-up ramp to the daily limit. The ramp grows
// with WarmupDay and never exceeds DailyLimit.
func EffectiveLimit(p SendingPolicy) int {
	if p.DailyLimit <= 0 {
		return 0
	}
	if !p.WarmupEnabled {
		return p.DailyLimit
	}

	day := p.WarmupDay
	if day < 1 {
		day = 1
	}
	pct := p.WarmupIncrementPercent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	ramp := day * pct
	if ramp >= 100 {
		return p.DailyLimit
	}
	// ceil(DailyLimit * ramp / 100)
	return (p.DailyLimit*ramp + 99) / 100
}

type Engine struct {
	Location *time.Location
}

func NewEngine(loc *time.Location) Engine {
	if loc == nil {
		loc = time.UTC
	}
	return Engine{Location: loc}
}

// IsWithinWindow reports whether now falls in [startHour, endHour) in the
// business timezone. A start after the end wraps past midnight.
func (e Engine) IsWithinWindow(startHour, endHour int, now time.Time) bool {
	h := now.In(e.loc()).Hour()
	if startHour <= endHour {
		return h >= startHour && h < endHour
	}
	return h >= startHour || h < endHour
}

func (e Engine) IsAllowedDay(days []time.Weekday, now time.Time) bool {
	wd := now.In(e.loc()).Weekday()
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}

// CheckGate decides whether a send may happen now. Manual sends are never
// gated; automated sends stop at the first failing check.
func (e Engine) CheckGate(p SendingPolicy, isManual bool, now time.Time) Decision {
	if isManual {
		return Allow()
	}
	if !p.AutoSendEnabled {
		return Deny(ReasonDisabled, "automation disabled")
	}
	if !e.IsWithinWindow(p.SendStartHour, p.SendEndHour, now) {
		return Deny(ReasonOutsideWindow, fmt.Sprintf("outside sending hours (%02d:00-%02d:00)", p.SendStartHour, p.SendEndHour))
	}
	if !e.IsAllowedDay(p.SendDays, now) {
		return Deny(ReasonDayNotAllowed, fmt.Sprintf("sending not allowed on %s", now.In(e.loc()).Weekday()))
	}
	if limit := EffectiveLimit(p); p.TotalSentToday >= limit {
		return DailyLimitReached(limit)
	}
	return Allow()
}

func (e Engine) loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

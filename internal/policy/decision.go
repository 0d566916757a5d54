package policy

import "fmt"

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDisabled      Reason = "disabled"
	ReasonOutsideWindow Reason = "outside_window"
	ReasonDayNotAllowed Reason = "day_not_allowed"
	ReasonDailyLimit    Reason = "daily_limit"
	ReasonHourlyLimit   Reason = "hourly_limit"
)

// Decision is the outcome of a gate check. Message is suitable for showing
// to the user as-is.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason Reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

func DailyLimitReached(limit int) Decision {
	return Deny(ReasonDailyLimit, fmt.Sprintf("daily limit reached (%d)", limit))
}

func HourlyLimitReached(limit int) Decision {
	return Deny(ReasonHourlyLimit, fmt.Sprintf("hourly limit reached (%d)", limit))
}

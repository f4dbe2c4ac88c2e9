package billing

import "strings"

// Verdict is the state machine's classification of an incoming status.
type Verdict string

const (
	VerdictTransitioned         Verdict = "transitioned"
	VerdictUnchanged            Verdict = "unchanged"
	VerdictRejectedRegression   Verdict = "rejected_regression"
	VerdictRejectedTerminalFlip Verdict = "rejected_terminal_flip"
)

// Decision is the result of applying an incoming status to the current one.
type Decision struct {
	Next     Status
	Verdict  Verdict
	Dispatch bool
}

// Priority orders statuses: confirming < confirmed = failed.
func Priority(s Status) int {
	switch s {
	case StatusConfirming:
		return 1
	case StatusConfirmed, StatusFailed:
		return 2
	default:
		return 0
	}
}

// IsTerminal reports whether no further status change is accepted.
func IsTerminal(s Status) bool {
	return Priority(s) == 2
}

// MapDaimoStatus maps a Daimo Pay event type to a payment status.
func MapDaimoStatus(eventType string) Status {
	switch eventType {
	case DaimoEventPaymentCompleted:
		return StatusConfirmed
	case DaimoEventPaymentBounced, DaimoEventPaymentRefunded:
		return StatusFailed
	default:
		return StatusConfirming
	}
}

// MapCrowdsplitStatus maps a Crowdsplit transaction status to a payment status.
func MapCrowdsplitStatus(providerStatus string) Status {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "COMPLETED", "SUCCEEDED":
		return StatusConfirmed
	case "FAILED", "CANCELLED", "CANCELED", "REFUNDED":
		return StatusFailed
	default:
		return StatusConfirming
	}
}

// Decide applies incoming to current. Statuses never move to a lower priority and
// the first terminal status wins, so any ordering of the same events converges.
func Decide(current, incoming Status) Decision {
	pc, pi := Priority(current), Priority(incoming)
	switch {
	case pi < pc:
		return Decision{Next: current, Verdict: VerdictRejectedRegression}
	case pc == 2 && pi == 2 && current != incoming:
		return Decision{Next: current, Verdict: VerdictRejectedTerminalFlip}
	case current == incoming:
		return Decision{Next: current, Verdict: VerdictUnchanged}
	default:
		return Decision{Next: incoming, Verdict: VerdictTransitioned, Dispatch: incoming == StatusConfirmed}
	}
}

package domain

import paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"

type DecisionKind string

const (
	// Advance moves the attempt to Decision.Next.
	Advance DecisionKind = "advance"
	// NoOp is a repeat of the current terminal state.
	NoOp DecisionKind = "noop"
	// Stale is an out-of-order or unknown non-terminal report.
	Stale DecisionKind = "stale"
	// Illegal contradicts a terminal state or skips a protected edge.
	Illegal DecisionKind = "illegal"
)

type Decision struct {
	Kind DecisionKind
	Next paymentdomain.AttemptStatus
}

// Transition is the attempt state machine. It is pure: given the stored state
// and a reported state it decides what the stored state becomes. Terminal
// states are sticky and the path only moves forward.
func Transition(current, reported paymentdomain.AttemptStatus) Decision {
	if current.Terminal() {
		if reported == current {
			return Decision{Kind: NoOp, Next: current}
		}
		return Decision{Kind: Illegal, Next: current}
	}
	if !reported.Valid() || reported == paymentdomain.StatusCreated {
		return Decision{Kind: Stale, Next: current}
	}

	switch reported {
	case paymentdomain.StatusCancelled:
		// Once funds are seen on chain the attempt can only settle or lapse.
		if current == paymentdomain.StatusConfirming {
			return Decision{Kind: Illegal, Next: current}
		}
		return Decision{Kind: Advance, Next: reported}
	case paymentdomain.StatusSucceeded, paymentdomain.StatusFailed, paymentdomain.StatusExpired:
		return Decision{Kind: Advance, Next: reported}
	}

	if reported.Rank() > current.Rank() {
		return Decision{Kind: Advance, Next: reported}
	}
	return Decision{Kind: Stale, Next: current}
}

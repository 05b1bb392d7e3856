package exec

import "errors"

// ErrUnavailable marks a transient collaborator failure: timeouts, network
// errors, rate limits. The retry layer backs off and tries again; the next
// tick retries fresh if the budget is exhausted.
var ErrUnavailable = errors.New("collaborator unavailable")

// RejectedError is terminal for the side's current cycle: the exchange
// refused the order (insufficient margin, bad symbol, duplicate link id
// with different params). The side halts and awaits intervention.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "order rejected: " + e.Reason
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/courier/envelope"
)

// Action is the outcome of a failure decision.
type Action int

const (
	// ActionRetry requeues the envelope locally right away.
	ActionRetry Action = iota
	// ActionSchedule persists the envelope as Scheduled after a delay.
	ActionSchedule
	// ActionDeadLetter moves the envelope to dead-letter storage.
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSchedule:
		return "schedule"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is what to do with an envelope that failed processing.
type Decision struct {
	Action Action
	// Delay is set for ActionSchedule.
	Delay time.Duration
	// Reason explains dead-letter decisions and ends up in the report.
	Reason string
}

// Rule overrides the default decision for errors it matches. Rules are
// evaluated in order and only while attempts remain.
type Rule struct {
	Match  func(error) bool
	Action Action
	// Delay is used when Action is ActionSchedule. Zero falls back to the
	// policy backoff.
	Delay time.Duration
}

// OnError matches errors wrapping target.
func OnError(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// OnType matches errors with a T in their chain.
func OnType[T error]() func(error) bool {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

// Policy is the failure handling configuration for one message type.
type Policy struct {
	MaxAttempts int
	Rules       []Rule
	// Backoff computes the delay for scheduled retries. Nil requeues
	// immediately.
	Backoff Strategy
}

// Decide classifies a failure. env.Attempts must already count the attempt
// that just failed.
func (p *Policy) Decide(env *envelope.Envelope, err error, now time.Time) Decision {
	switch {
	case !IsRetryable(err):
		return Decision{Action: ActionDeadLetter, Reason: "non-retryable error"}
	case env.IsExpired(now):
		return Decision{Action: ActionDeadLetter, Reason: "deliver-by time passed"}
	case p.MaxAttempts > 0 && env.Attempts >= p.MaxAttempts:
		return Decision{Action: ActionDeadLetter, Reason: fmt.Sprintf("exhausted %d attempts", env.Attempts)}
	}

	for _, r := range p.Rules {
		if r.Match == nil || !r.Match(err) {
			continue
		}
		switch r.Action {
		case ActionDeadLetter:
			return Decision{Action: ActionDeadLetter, Reason: fmt.Sprintf("rule matched %T", err)}
		case ActionSchedule:
			d := r.Delay
			if d == 0 {
				d = p.delay(env.Attempts)
			}
			return Decision{Action: ActionSchedule, Delay: d}
		default:
			return Decision{Action: ActionRetry}
		}
	}

	if d := p.delay(env.Attempts); d > 0 {
		return Decision{Action: ActionSchedule, Delay: d}
	}
	return Decision{Action: ActionRetry}
}

func (p *Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.Delay(attempt)
}

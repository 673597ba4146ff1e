// Package retry decides what happens to an envelope after a failed
// processing attempt: requeue now, schedule a delayed retry, or move it to
// dead-letter storage.
//
// Policies are configured per message type over a default:
//
//	pols := retry.NewPolicies(retry.Policy{MaxAttempts: 3, Backoff: retry.DefaultStrategy()})
//	pols.Set("invoice.created", retry.Policy{
//	    MaxAttempts: 5,
//	    Rules: []retry.Rule{
//	        {Match: retry.OnError(ErrValidation), Action: retry.ActionDeadLetter},
//	        {Match: retry.OnType[*net.OpError](), Action: retry.ActionSchedule, Delay: time.Minute},
//	    },
//	})
//
// Errors wrapped with [NonRetryable], expired envelopes and envelopes that
// reached MaxAttempts are always dead-lettered.
package retry

// Package deadletter holds envelopes that exhausted their retries or
// became non-retryable, together with the failure that put them there.
//
// Dead-lettering is never silent: every envelope that cannot ultimately be
// delivered ends up as a queryable [Report]. Moving an envelope here deletes
// it from its origin table in the same transaction.
//
//	svc := deadletter.NewService(store, "billing")
//
//	// Push is called by the executor on terminal failure.
//	svc.Push(ctx, env, err, "exhausted 3 attempts")
//
//	// Replay moves a dead letter back into the incoming table.
//	env, err := svc.Replay(ctx, id)
package deadletter

// Package queuecontext carries the service identity of internal-queue
// execution contexts. Billing aggregation must never run on behalf of a
// general API caller.
package queuecontext

import "context"

type callerKey struct{}

// CallerBillingQueue is the identity the billing queue consumer stamps on its
// execution context.
const CallerBillingQueue = "billing-queue"

func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok && caller != ""
}

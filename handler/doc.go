// Package handler maps message types to the functions that process them.
// It is the boundary between the delivery core, which only moves opaque
// bytes, and application code, which decodes them.
//
// Handlers are registered with a typed payload; the registry decodes
// Envelope.Data by content type before calling them:
//
//	reg := handler.NewRegistry()
//	handler.Register(reg, "invoice.created", func(ctx context.Context, env *envelope.Envelope, inv Invoice) error {
//	    return billing.Record(ctx, inv)
//	})
package handler

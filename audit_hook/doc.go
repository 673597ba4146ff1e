// Package audithook is a courier extension that bridges envelope lifecycle
// events to an append-only audit trail.
//
// Every hook emits a structured audit event through the [Recorder]
// interface, with a severity (info for normal traffic, warning for retries
// and failed sends, critical for dead letters and latched circuits) and
// metadata such as message type, destination and attempt count.
//
// # Usage
//
//	hook := audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Append(ctx, evt)
//	}))
//	eng, _ := engine.Build(cfg, store, engine.WithExtension(hook))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionEnvelopeDeadLettered,
//	        audithook.ActionCircuitBroken,
//	    ),
//	)
package audithook

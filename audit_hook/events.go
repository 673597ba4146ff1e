package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionEnvelopeReceived     = "envelope.received"
	ActionEnvelopeSucceeded    = "envelope.succeeded"
	ActionEnvelopeRetrying     = "envelope.retrying"
	ActionEnvelopeScheduled    = "envelope.scheduled"
	ActionEnvelopeDeadLettered = "envelope.dead_lettered"
	ActionEnvelopeSent         = "envelope.sent"
	ActionSendFailed           = "envelope.send_failed"
	ActionCircuitBroken        = "circuit.broken"
	ActionCircuitResumed       = "circuit.resumed"
	ActionNodeReassigned       = "node.reassigned"
	ActionEnvelopesRecovered   = "node.recovered"
)

// Audit event categories group related actions.
const (
	CategoryIncoming   = "courier.incoming"
	CategoryOutgoing   = "courier.outgoing"
	CategoryDurability = "courier.durability"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceEnvelope    = "envelope"
	ResourceDestination = "destination"
	ResourceNode        = "node"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionEnvelopeReceived,
		ActionEnvelopeSucceeded,
		ActionEnvelopeRetrying,
		ActionEnvelopeScheduled,
		ActionEnvelopeDeadLettered,
		ActionEnvelopeSent,
		ActionSendFailed,
		ActionCircuitBroken,
		ActionCircuitResumed,
		ActionNodeReassigned,
		ActionEnvelopesRecovered,
	}
}

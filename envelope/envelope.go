package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Status places an envelope in its persisted lifecycle.
type Status string

const (
	// StatusOutgoing means the envelope waits in the outbox for transmission.
	StatusOutgoing Status = "Outgoing"
	// StatusScheduled means the envelope is not eligible until ExecutionTime.
	StatusScheduled Status = "Scheduled"
	// StatusIncoming means the envelope is ready for local processing.
	StatusIncoming Status = "Incoming"
)

// NodeID identifies a running process sharing the store.
type NodeID int32

// AnyNode is the owner of work that any live node may claim.
const AnyNode NodeID = 0

// Ping message and content type.
const PingMessageType = "courier/ping"

// Envelope is one message instance in transit. Data is the opaque payload;
// only the handler-dispatch layer decodes it.
type Envelope struct {
	ID            uuid.UUID  `msgpack:"id" json:"id"`
	Status        Status     `msgpack:"status" json:"status"`
	OwnerID       NodeID     `msgpack:"owner_id" json:"owner_id"`
	Attempts      int        `msgpack:"attempts" json:"attempts"`
	ExecutionTime *time.Time `msgpack:"execution_time,omitempty" json:"execution_time,omitempty"`
	DeliverBy     *time.Time `msgpack:"deliver_by,omitempty" json:"deliver_by,omitempty"`
	Destination   string     `msgpack:"destination,omitempty" json:"destination,omitempty"`

	MessageType string            `msgpack:"message_type" json:"message_type"`
	ContentType string            `msgpack:"content_type,omitempty" json:"content_type,omitempty"`
	Data        []byte            `msgpack:"data" json:"data"`
	Headers     map[string]string `msgpack:"headers,omitempty" json:"headers,omitempty"`

	CorrelationID  string `msgpack:"correlation_id,omitempty" json:"correlation_id,omitempty"`
	CausationID    string `msgpack:"causation_id,omitempty" json:"causation_id,omitempty"`
	SagaID         string `msgpack:"saga_id,omitempty" json:"saga_id,omitempty"`
	ReplyURI       string `msgpack:"reply_uri,omitempty" json:"reply_uri,omitempty"`
	ReplyRequested string `msgpack:"reply_requested,omitempty" json:"reply_requested,omitempty"`
	Source         string `msgpack:"source,omitempty" json:"source,omitempty"`

	SentAt time.Time `msgpack:"sent_at" json:"sent_at"`
}

// New creates an envelope with a fresh time-ordered id.
func New(messageType string, data []byte) *Envelope {
	return &Envelope{
		ID:          newID(),
		MessageType: messageType,
		Data:        data,
		SentAt:      time.Now().UTC(),
	}
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// IsDelayed reports whether the envelope must wait past now.
func (e *Envelope) IsDelayed(now time.Time) bool {
	return e.ExecutionTime != nil && e.ExecutionTime.After(now)
}

// IsExpired reports whether DeliverBy has passed.
func (e *Envelope) IsExpired(now time.Time) bool {
	return e.DeliverBy != nil && !e.DeliverBy.After(now)
}

// MarkReceived sets the status and owner for an envelope arriving at node.
// Delayed envelopes become Scheduled and unowned so whichever node is
// polling when they come due picks them up.
func (e *Envelope) MarkReceived(now time.Time, node NodeID) {
	if e.IsDelayed(now) {
		e.Status = StatusScheduled
		e.OwnerID = AnyNode
		return
	}
	e.Status = StatusIncoming
	e.OwnerID = node
}

// ScheduleAt makes the envelope a delayed job due at t.
func (e *Envelope) ScheduleAt(t time.Time) {
	at := t.UTC()
	e.ExecutionTime = &at
	e.Status = StatusScheduled
	e.OwnerID = AnyNode
}

// ForSend creates a child envelope caused by e.
func (e *Envelope) ForSend(messageType string, data []byte) *Envelope {
	child := New(messageType, data)
	child.CorrelationID = e.ID.String()
	child.CausationID = e.ID.String()
	child.SagaID = e.SagaID
	return child
}

// ForResponse creates a reply to e. When e asked for a reply of this
// message type the child is routed back to e's reply address.
func (e *Envelope) ForResponse(messageType string, data []byte) *Envelope {
	child := e.ForSend(messageType, data)
	child.CorrelationID = e.CorrelationID
	child.CausationID = e.CorrelationID

	if e.ReplyRequested != "" && messageType == e.ReplyRequested {
		child.Destination = e.ReplyURI
	}
	return child
}

// ForPing builds the synthetic envelope used to probe a destination.
func ForPing(destination string) *Envelope {
	env := New(PingMessageType, []byte{1, 2, 3, 4})
	env.ContentType = PingMessageType
	env.Destination = destination
	return env
}

// IsPing reports whether e is a destination probe.
func (e *Envelope) IsPing() bool {
	return e.MessageType == PingMessageType
}

// Clone returns a deep copy of e.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.ExecutionTime != nil {
		t := *e.ExecutionTime
		cp.ExecutionTime = &t
	}
	if e.DeliverBy != nil {
		t := *e.DeliverBy
		cp.DeliverBy = &t
	}
	if e.Data != nil {
		cp.Data = append([]byte(nil), e.Data...)
	}
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

package deadletter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/courier/envelope"
)

// Report is the persisted failure record of a dead-lettered envelope.
// It is immutable once written.
type Report struct {
	// ID is the id of the dead-lettered envelope.
	ID               uuid.UUID `json:"id"`
	Source           string    `json:"source"`
	MessageType      string    `json:"message_type"`
	Explanation      string    `json:"explanation"`
	ExceptionText    string    `json:"exception_text"`
	ExceptionType    string    `json:"exception_type"`
	ExceptionMessage string    `json:"exception_message"`
	// Body is the serialized envelope at the time of failure.
	Body     []byte    `json:"body"`
	FailedAt time.Time `json:"failed_at"`
}

// NewReport snapshots env and the error that terminated it.
func NewReport(env *envelope.Envelope, cause error, source, explanation string) (*Report, error) {
	body, err := envelope.Serialize(env)
	if err != nil {
		return nil, err
	}

	r := &Report{
		ID:          env.ID,
		Source:      source,
		MessageType: env.MessageType,
		Explanation: explanation,
		Body:        body,
		FailedAt:    time.Now().UTC(),
	}
	if cause != nil {
		r.ExceptionText = fmt.Sprintf("%+v", cause)
		r.ExceptionType = fmt.Sprintf("%T", rootCause(cause))
		r.ExceptionMessage = cause.Error()
	}
	return r, nil
}

// Envelope decodes the snapshot taken when the envelope failed.
func (r *Report) Envelope() (*envelope.Envelope, error) {
	return envelope.Deserialize(r.Body)
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

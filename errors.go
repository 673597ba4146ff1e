package courier

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrStoreClosed = errors.New("courier: store closed")

	// Not found errors.
	ErrEnvelopeNotFound   = errors.New("courier: envelope not found")
	ErrDeadLetterNotFound = errors.New("courier: dead letter not found")

	// Conflict errors.
	ErrEnvelopeAlreadyExists = errors.New("courier: envelope already exists")

	// Configuration errors.
	ErrInvalidConfig      = errors.New("courier: invalid configuration")
	ErrInvalidNodeID      = errors.New("courier: invalid node id")
	ErrMissingDestination = errors.New("courier: envelope has no destination")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("courier: already started")
	ErrNotStarted     = errors.New("courier: not started")
	ErrAgentClosed    = errors.New("courier: sending agent closed")
	ErrQueueFull      = errors.New("courier: local queue full")

	// Routing errors.
	ErrNoHandler = errors.New("courier: no handler for message type")
	ErrNoSender  = errors.New("courier: no sender for destination")
)

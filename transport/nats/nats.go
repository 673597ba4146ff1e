// Package nats publishes envelopes to NATS JetStream subjects.
//
// Destinations look like "nats://host:4222/<subject>". The subject must be
// bound to a stream; publishes wait for the stream's ack and carry the
// envelope id as Nats-Msg-Id, so a retransmission inside the stream's
// duplicate window is dropped by the server.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/sending"
)

// ErrNotConnected is returned by Send before Connect or after Close.
var ErrNotConnected = errors.New("courier/nats: not connected")

// Header names set on every message.
const (
	HeaderMessageType   = "Courier-Message-Type"
	HeaderCorrelationID = "Courier-Correlation-Id"
	HeaderCausationID   = "Courier-Causation-Id"
	HeaderSagaID        = "Courier-Saga-Id"
	HeaderReplyURI      = "Courier-Reply-Uri"
	HeaderSource        = "Courier-Source"
)

// Option configures the Factory.
type Option func(*Factory)

// WithServerURL overrides the server address derived from the destination.
func WithServerURL(u string) Option {
	return func(f *Factory) { f.serverURL = u }
}

// WithName sets the client connection name.
func WithName(name string) Option {
	return func(f *Factory) { f.name = name }
}

// WithAckTimeout bounds the wait for a JetStream ack. Defaults to 5s.
func WithAckTimeout(d time.Duration) Option {
	return func(f *Factory) { f.ackTimeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// Factory builds JetStream senders.
type Factory struct {
	serverURL  string
	name       string
	ackTimeout time.Duration
	logger     *slog.Logger
}

// New creates a Factory.
func New(opts ...Option) *Factory {
	f := &Factory{name: "courier", ackTimeout: 5 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Address is a parsed NATS destination.
type Address struct {
	ServerURL string
	Subject   string
}

// ParseDestination splits destination into the server URL and subject.
func ParseDestination(destination string) (Address, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return Address{}, fmt.Errorf("courier/nats: parse %q: %w", destination, err)
	}
	if u.Scheme != "nats" {
		return Address{}, fmt.Errorf("courier/nats: unsupported scheme %q", u.Scheme)
	}
	subject := strings.Trim(u.Path, "/")
	if subject == "" || strings.ContainsAny(subject, " /*>") {
		return Address{}, fmt.Errorf("courier/nats: %q needs a literal /<subject>", destination)
	}

	server := url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return Address{ServerURL: server.String(), Subject: subject}, nil
}

// NewSender returns a sender for destination.
func (f *Factory) NewSender(destination string) (sending.Sender, error) {
	addr, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}
	if f.serverURL != "" {
		addr.ServerURL = f.serverURL
	}
	return &Sender{
		destination: destination,
		addr:        addr,
		name:        f.name,
		timeout:     f.ackTimeout,
		logger:      f.logger,
	}, nil
}

// Sender publishes to one subject over its own connection.
type Sender struct {
	destination string
	addr        Address
	name        string
	timeout     time.Duration
	logger      *slog.Logger

	mu sync.Mutex
	nc *natsgo.Conn
	js jetstream.JetStream
}

// Destination returns the destination URI.
func (s *Sender) Destination() string { return s.destination }

// Connect opens the connection. Reconnects after a network failure are
// left to the client; a failed publish still reaches the agent's circuit.
func (s *Sender) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc != nil && !s.nc.IsClosed() {
		return nil
	}

	logger := s.logger.With(slog.String("destination", s.destination))
	nc, err := natsgo.Connect(s.addr.ServerURL,
		natsgo.Name(s.name),
		natsgo.Timeout(5*time.Second),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("courier/nats: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("courier/nats: jetstream: %w", err)
	}

	s.nc, s.js = nc, js
	logger.Debug("nats sender connected", slog.String("subject", s.addr.Subject))
	return nil
}

// Send publishes payload and waits for the stream's ack. Pings only
// round-trip to the server.
func (s *Sender) Send(ctx context.Context, env *envelope.Envelope, payload []byte) error {
	s.mu.Lock()
	nc, js := s.nc, s.js
	s.mu.Unlock()

	if nc == nil || nc.IsClosed() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if env.IsPing() {
		if err := nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("courier/nats: ping: %w", err)
		}
		return nil
	}

	if _, err := js.PublishMsg(ctx, message(s.addr.Subject, env, payload), jetstream.WithMsgID(env.ID.String())); err != nil {
		return fmt.Errorf("courier/nats: publish: %w", err)
	}
	return nil
}

func message(subject string, env *envelope.Envelope, payload []byte) *natsgo.Msg {
	msg := natsgo.NewMsg(subject)
	msg.Data = payload
	for k, v := range env.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(HeaderMessageType, env.MessageType)
	set := func(k, v string) {
		if v != "" {
			msg.Header.Set(k, v)
		}
	}
	set(HeaderCorrelationID, env.CorrelationID)
	set(HeaderCausationID, env.CausationID)
	set(HeaderSagaID, env.SagaID)
	set(HeaderReplyURI, env.ReplyURI)
	set(HeaderSource, env.Source)
	return msg
}

// Close drains and closes the connection. Connect may be called again.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	if errors.Is(err, natsgo.ErrConnectionClosed) {
		err = nil
	}
	s.nc, s.js = nil, nil
	return err
}

// Package redisstream appends envelopes to Redis streams. Destinations
// look like "redis://<host>/<stream>"; the host names the deployment for
// readers of the URI while the connection comes from the shared client.
package redisstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/sending"
)

const keyPrefix = "courier:stream:"

// StreamKey returns the Redis key of a stream: courier:stream:{name}
func StreamKey(name string) string { return keyPrefix + name }

// Option configures the Factory.
type Option func(*Factory)

// WithMaxLen caps each stream at roughly n entries. Zero leaves streams
// unbounded.
func WithMaxLen(n int64) Option {
	return func(f *Factory) { f.maxLen = n }
}

// Factory builds stream senders over one client. The caller owns the
// client lifecycle.
type Factory struct {
	client goredis.Cmdable
	maxLen int64
}

// New creates a Factory.
func New(client goredis.Cmdable, opts ...Option) *Factory {
	f := &Factory{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StreamName returns the stream a destination appends to.
func StreamName(destination string) (string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("courier/redisstream: parse %q: %w", destination, err)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		name = u.Host
	}
	if name == "" {
		return "", fmt.Errorf("courier/redisstream: %q names no stream", destination)
	}
	return name, nil
}

// NewSender returns a sender for destination.
func (f *Factory) NewSender(destination string) (sending.Sender, error) {
	name, err := StreamName(destination)
	if err != nil {
		return nil, err
	}
	return &sender{factory: f, destination: destination, key: StreamKey(name)}, nil
}

type sender struct {
	factory     *Factory
	destination string
	key         string
}

func (s *sender) Destination() string { return s.destination }

func (s *sender) Connect(ctx context.Context) error {
	if err := s.factory.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("courier/redisstream: ping: %w", err)
	}
	return nil
}

func (s *sender) Send(ctx context.Context, env *envelope.Envelope, payload []byte) error {
	args := &goredis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{
			"id":           env.ID.String(),
			"message_type": env.MessageType,
			"body":         payload,
		},
	}
	if s.factory.maxLen > 0 {
		args.MaxLen = s.factory.maxLen
		args.Approx = true
	}
	if err := s.factory.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("courier/redisstream: xadd %s: %w", s.key, err)
	}
	return nil
}

func (s *sender) Close() error { return nil }

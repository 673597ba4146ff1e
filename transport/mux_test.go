package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/sending"
	"github.com/xraph/courier/transport"
)

type stubSender struct{ dest string }

func (s *stubSender) Destination() string                                    { return s.dest }
func (s *stubSender) Connect(context.Context) error                          { return nil }
func (s *stubSender) Send(context.Context, *envelope.Envelope, []byte) error { return nil }
func (s *stubSender) Close() error                                           { return nil }

func stubFactory(scheme string, calls *[]string) transport.FactoryFunc {
	return func(dest string) (sending.Sender, error) {
		*calls = append(*calls, scheme)
		return &stubSender{dest: dest}, nil
	}
}

func TestMux_NewSender(t *testing.T) {
	t.Parallel()

	var calls []string
	mux := transport.NewMux()
	mux.Register("local", stubFactory("local", &calls))
	mux.Register("AMQP", stubFactory("amqp", &calls))

	tests := []struct {
		name    string
		dest    string
		wantErr error
		want    string
	}{
		{"local", "local://billing", nil, "local"},
		{"scheme is case insensitive", "amqp://broker/orders/created", nil, "amqp"},
		{"upper case destination", "LOCAL://billing", nil, "local"},
		{"empty", "", courier.ErrMissingDestination, ""},
		{"unknown scheme", "kafka://broker/topic", courier.ErrNoSender, ""},
	}

	for _, tt := range tests {
		calls = calls[:0]
		s, err := mux.NewSender(tt.dest)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if s.Destination() != tt.dest {
			t.Errorf("%s: Destination = %q", tt.name, s.Destination())
		}
		if len(calls) != 1 || calls[0] != tt.want {
			t.Errorf("%s: factory calls = %v, want [%s]", tt.name, calls, tt.want)
		}
	}
}

func TestMux_Schemes(t *testing.T) {
	t.Parallel()

	var calls []string
	mux := transport.NewMux()
	mux.Register("redis", stubFactory("redis", &calls))
	mux.Register("amqp", stubFactory("amqp", &calls))

	got := mux.Schemes()
	if len(got) != 2 || got[0] != "amqp" || got[1] != "redis" {
		t.Errorf("Schemes() = %v", got)
	}
}

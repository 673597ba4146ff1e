package sending_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/sending"
)

type factory struct {
	mu      sync.Mutex
	senders map[string]*fakeSender
	dialErr error
}

func (f *factory) NewSender(dest string) (sending.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.senders == nil {
		f.senders = make(map[string]*fakeSender)
	}
	s := newFakeSender(dest)
	s.failDial = f.dialErr
	f.senders[dest] = s
	return s, nil
}

type pingingCallback struct {
	recordingCallback
	started bool
}

func (p *pingingCallback) StartPinging() { p.started = true }

func TestRegistry_CreatesOneAgentPerDestination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &factory{}
	reg := sending.NewRegistry(f, func(*sending.Agent) sending.Callback { return &recordingCallback{} }, nil)
	defer reg.Close(ctx)

	a1, err := reg.AgentFor(ctx, "local://a")
	if err != nil {
		t.Fatalf("AgentFor: %v", err)
	}
	a2, _ := reg.AgentFor(ctx, "local://a")
	if a1 != a2 {
		t.Fatal("second lookup created a new agent")
	}
	_, _ = reg.AgentFor(ctx, "local://b")

	if got := reg.Destinations(); len(got) != 2 || got[0] != "local://a" {
		t.Fatalf("Destinations = %v", got)
	}
	if _, err := reg.AgentFor(ctx, ""); !errors.Is(err, courier.ErrMissingDestination) {
		t.Fatalf("empty destination = %v", err)
	}
}

func TestRegistry_UnreachableDestinationStartsLatched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &factory{dialErr: errors.New("refused")}
	var cb *pingingCallback
	reg := sending.NewRegistry(f, func(*sending.Agent) sending.Callback {
		cb = &pingingCallback{}
		return cb
	}, nil)
	defer reg.Close(ctx)

	a, err := reg.AgentFor(ctx, "local://down")
	if err != nil {
		t.Fatalf("AgentFor: %v", err)
	}
	if !a.Latched() {
		t.Fatal("agent for unreachable destination not latched")
	}
	if !cb.started {
		t.Fatal("callback was not asked to start pinging")
	}
}

func TestRegistry_ClosedRejectsLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := sending.NewRegistry(&factory{}, func(*sending.Agent) sending.Callback { return &recordingCallback{} }, nil)
	_ = reg.Close(ctx)

	if _, err := reg.AgentFor(ctx, "local://a"); !errors.Is(err, courier.ErrAgentClosed) {
		t.Fatalf("AgentFor after Close = %v", err)
	}
}

// gatedFactory hands out senders whose Connect blocks until release is
// closed, for destinations listed in slow.
type gatedFactory struct {
	factory
	slow    map[string]bool
	release chan struct{}
}

type gatedSender struct {
	*fakeSender
	release chan struct{}
}

func (g *gatedSender) Connect(ctx context.Context) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.fakeSender.Connect(ctx)
}

func (f *gatedFactory) NewSender(dest string) (sending.Sender, error) {
	s, _ := f.factory.NewSender(dest)
	if f.slow[dest] {
		return &gatedSender{fakeSender: s.(*fakeSender), release: f.release}, nil
	}
	return s, nil
}

func TestRegistry_SlowConnectDoesNotBlockOtherDestinations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := &gatedFactory{slow: map[string]bool{"slow://x": true}, release: make(chan struct{})}
	reg := sending.NewRegistry(f, func(*sending.Agent) sending.Callback { return &recordingCallback{} }, nil)
	defer reg.Close(ctx)

	slowDone := make(chan *sending.Agent, 2)
	for range 2 {
		go func() {
			a, err := reg.AgentFor(ctx, "slow://x")
			if err != nil {
				t.Errorf("AgentFor(slow): %v", err)
			}
			slowDone <- a
		}()
	}

	// Wait until the slow entry exists so the lookup below races its Connect.
	deadline := time.Now().Add(2 * time.Second)
	for len(reg.Destinations()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow destination never registered")
		}
		time.Sleep(time.Millisecond)
	}

	fastDone := make(chan error, 1)
	go func() {
		_, err := reg.AgentFor(ctx, "fast://y")
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("AgentFor(fast): %v", err)
		}
	case <-time.After(time.Second):
		close(f.release)
		t.Fatal("lookup of a healthy destination waited on another destination's Connect")
	}

	select {
	case <-slowDone:
		t.Fatal("slow lookup returned before its Connect finished")
	default:
	}

	close(f.release)
	a1, a2 := <-slowDone, <-slowDone
	if a1 == nil || a1 != a2 {
		t.Fatal("concurrent lookups of one destination got different agents")
	}
	if a1.Latched() {
		t.Fatal("slow agent latched after a successful Connect")
	}
}

func TestRegistry_RemoveClosesAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := sending.NewRegistry(&factory{}, func(*sending.Agent) sending.Callback { return &recordingCallback{} }, nil)
	defer reg.Close(ctx)

	first, err := reg.AgentFor(ctx, "local://a")
	if err != nil {
		t.Fatalf("AgentFor: %v", err)
	}
	if err := reg.Remove(ctx, "local://a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove(ctx, "local://unknown"); err != nil {
		t.Fatalf("Remove of unknown destination: %v", err)
	}
	if len(reg.Destinations()) != 0 {
		t.Fatalf("Destinations after Remove = %v", reg.Destinations())
	}

	second, err := reg.AgentFor(ctx, "local://a")
	if err != nil {
		t.Fatalf("AgentFor after Remove: %v", err)
	}
	if second == first {
		t.Fatal("lookup after Remove returned the closed agent")
	}
}

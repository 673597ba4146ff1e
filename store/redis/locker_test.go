package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// grantingClient answers every SETNX with success and counts the calls.
type grantingClient struct {
	goredis.Cmdable
	setnx int
}

func (c *grantingClient) SetNX(ctx context.Context, _ string, _ interface{}, _ time.Duration) *goredis.BoolCmd {
	c.setnx++
	return goredis.NewBoolResult(true, nil)
}

func TestLockKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		id     int64
		want   string
	}{
		{keyPrefix, 42, "courier:lock:42"},
		{"svc:", -7, "svc:lock:-7"},
	}
	for _, tt := range tests {
		if got := lockKey(tt.prefix, tt.id); got != tt.want {
			t.Errorf("lockKey(%q, %d) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestNewLocker_Options(t *testing.T) {
	t.Parallel()

	l := NewLocker(nil, WithTTL(5*time.Second), WithPrefix("svc:"), WithRetryInterval(time.Millisecond))
	if l.TTL() != 5*time.Second {
		t.Errorf("TTL = %v, want 5s", l.TTL())
	}
	if l.prefix != "svc:" || l.retry != time.Millisecond {
		t.Errorf("prefix=%q retry=%v", l.prefix, l.retry)
	}
	if len(l.token) != 32 {
		t.Errorf("token length = %d, want 32", len(l.token))
	}
	if NewLocker(nil).token == l.token {
		t.Error("lockers must not share tokens")
	}
}

func TestReleaseGlobalLock_NotHeldIsNoop(t *testing.T) {
	t.Parallel()

	l := NewLocker(nil)
	if err := l.ReleaseGlobalLock(context.Background(), 1); err != nil {
		t.Fatalf("ReleaseGlobalLock: %v", err)
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTryGetGlobalLock_NotReentrant(t *testing.T) {
	t.Parallel()

	client := &grantingClient{}
	l := NewLocker(client)
	ctx := context.Background()

	if ok, err := l.TryGetGlobalLock(ctx, 10002); err != nil || !ok {
		t.Fatalf("first TryGetGlobalLock = %v, %v", ok, err)
	}
	if ok, err := l.TryGetGlobalLock(ctx, 10002); err != nil || ok {
		t.Fatalf("second TryGetGlobalLock on a held id = %v, %v; want false", ok, err)
	}
	if client.setnx != 1 {
		t.Errorf("SETNX calls = %d, want 1", client.setnx)
	}
	if ok, _ := l.TryGetGlobalLock(ctx, 10003); !ok {
		t.Error("a different id should still be acquirable")
	}
}

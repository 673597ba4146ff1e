package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/handler"
	"github.com/xraph/courier/retry"
)

type invoice struct {
	Number string `json:"number" msgpack:"number"`
	Total  int    `json:"total" msgpack:"total"`
}

func TestRegister_DecodesByContentType(t *testing.T) {
	t.Parallel()

	for _, ct := range []string{"", handler.ContentTypeJSON, handler.ContentTypeMsgpack} {
		t.Run("content type "+ct, func(t *testing.T) {
			t.Parallel()
			reg := handler.NewRegistry()

			var got invoice
			handler.Register(reg, "invoice.created", func(_ context.Context, _ *envelope.Envelope, inv invoice) error {
				got = inv
				return nil
			})

			data, err := handler.Encode(ct, invoice{Number: "INV-1", Total: 42})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			env := envelope.New("invoice.created", data)
			env.ContentType = ct

			if err := reg.Dispatch(context.Background(), env); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if got.Number != "INV-1" || got.Total != 42 {
				t.Errorf("decoded %+v", got)
			}
		})
	}
}

func TestDispatch_MissingHandlerIsTerminal(t *testing.T) {
	reg := handler.NewRegistry()
	env := envelope.New("nobody.listens", nil)

	err := reg.Dispatch(context.Background(), env)
	if !errors.Is(err, courier.ErrNoHandler) {
		t.Fatalf("Dispatch = %v, want ErrNoHandler", err)
	}
	if retry.IsRetryable(err) {
		t.Error("missing handler should not be retryable")
	}
}

func TestDispatch_BadPayloadIsTerminal(t *testing.T) {
	reg := handler.NewRegistry()
	handler.Register(reg, "invoice.created", func(context.Context, *envelope.Envelope, invoice) error {
		t.Fatal("handler must not run on undecodable payload")
		return nil
	})

	env := envelope.New("invoice.created", []byte("{not json"))
	err := reg.Dispatch(context.Background(), env)
	if err == nil || retry.IsRetryable(err) {
		t.Fatalf("Dispatch = %v, want non-retryable decode error", err)
	}
}

func TestLookup_MemoizedMissInvalidatedByHandle(t *testing.T) {
	reg := handler.NewRegistry()

	if _, ok := reg.Lookup("late.type"); ok {
		t.Fatal("unexpected handler before registration")
	}

	called := false
	reg.Handle("late.type", func(context.Context, *envelope.Envelope) error {
		called = true
		return nil
	})

	if err := reg.Dispatch(context.Background(), envelope.New("late.type", nil)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("handler registered after a cached miss was not called")
	}
}

func TestMessageTypes_Sorted(t *testing.T) {
	reg := handler.NewRegistry()
	noop := func(context.Context, *envelope.Envelope) error { return nil }
	reg.Handle("b", noop)
	reg.Handle("a", noop)

	got := reg.MessageTypes()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("MessageTypes = %v, want [a b]", got)
	}
}

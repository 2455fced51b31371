package webhooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
)

func TestDispatcher_RunsHandlersSequentiallyInOrder(t *testing.T) {
	dispatcher := NewDispatcher()
	var (
		mu  sync.Mutex
		log []string
	)
	record := func(entry string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, entry)
	}
	for index, delay := range []time.Duration{30 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond} {
		name := []string{"H1", "H2", "H3"}[index]
		delay := delay
		dispatcher.On(EventPaymentConfirmed, func(ctx context.Context, evt ParsedEvent, dc DispatchContext) error {
			record(name + ":start")
			time.Sleep(delay)
			record(name + ":end")
			return nil
		})
	}

	if err := dispatcher.Dispatch(context.Background(), ParsedEvent{Event: EventPaymentConfirmed}, DispatchContext{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	want := []string{"H1:start", "H1:end", "H2:start", "H2:end", "H3:start", "H3:end"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for index := range want {
		if log[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestDispatcher_NoHandlersIsNoop(t *testing.T) {
	dispatcher := NewDispatcher()
	if err := dispatcher.Dispatch(context.Background(), ParsedEvent{Event: EventPaymentFailed}, DispatchContext{}); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	var zero Dispatcher
	if err := zero.Dispatch(context.Background(), ParsedEvent{Event: EventPaymentFailed}, DispatchContext{}); err != nil {
		t.Fatalf("expected zero dispatcher no-op, got %v", err)
	}
}

func TestDispatcher_HandlerErrorAbortsPass(t *testing.T) {
	dispatcher := NewDispatcher()
	failure := errors.New("compliance check failed")
	calls := 0
	dispatcher.On(EventComplianceUpdated, func(context.Context, ParsedEvent, DispatchContext) error {
		calls++
		return failure
	})
	dispatcher.On(EventComplianceUpdated, func(context.Context, ParsedEvent, DispatchContext) error {
		calls++
		return nil
	})

	err := dispatcher.Dispatch(context.Background(), ParsedEvent{Event: EventComplianceUpdated}, DispatchContext{})
	if !errors.Is(err, failure) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
	var envelope *goerrors.Error
	if !errors.As(err, &envelope) || envelope.TextCode != core.ErrorHandlerFailed {
		t.Fatalf("expected %s envelope, got %v", core.ErrorHandlerFailed, err)
	}
	if calls != 1 {
		t.Fatalf("expected remaining handlers to be skipped, got %d calls", calls)
	}
}

func TestDispatcher_UnregisterIsIdempotent(t *testing.T) {
	dispatcher := NewDispatcher()
	noop := func(context.Context, ParsedEvent, DispatchContext) error { return nil }
	first := dispatcher.On(EventPaymentConfirmed, noop)
	dispatcher.On(EventPaymentConfirmed, noop)
	dispatcher.On(EventPaymentFailed, noop)

	if dispatcher.HandlerCount(EventPaymentConfirmed) != 2 {
		t.Fatalf("expected the same function to register twice")
	}
	if dispatcher.HandlerCount() != 3 {
		t.Fatalf("expected 3 handlers total, got %d", dispatcher.HandlerCount())
	}

	first()
	first()
	if dispatcher.HandlerCount(EventPaymentConfirmed) != 1 {
		t.Fatalf("expected one handler left, got %d", dispatcher.HandlerCount(EventPaymentConfirmed))
	}
	if dispatcher.HandlerCount(EventPaymentConfirmed, EventPaymentFailed) != 2 {
		t.Fatalf("expected 2 handlers across both events")
	}

	dispatcher.Clear()
	if dispatcher.HandlerCount() != 0 {
		t.Fatalf("expected clear to remove all handlers")
	}
}

func TestDispatcher_OffDropsEmptyBucket(t *testing.T) {
	dispatcher := NewDispatcher()
	reg := dispatcher.Subscribe(EventPaymentProcessing, func(context.Context, ParsedEvent, DispatchContext) error { return nil })
	if reg.Event() != EventPaymentProcessing {
		t.Fatalf("unexpected registration event %q", reg.Event())
	}
	dispatcher.Off(reg)
	dispatcher.Off(reg)
	dispatcher.mu.RLock()
	_, exists := dispatcher.handlers[EventPaymentProcessing]
	dispatcher.mu.RUnlock()
	if exists {
		t.Fatalf("expected empty bucket to be removed")
	}
}

func TestDispatcher_OnceSurvivesReentrantDispatch(t *testing.T) {
	dispatcher := NewDispatcher()
	calls := 0
	evt := ParsedEvent{Event: EventPaymentPartial}
	dispatcher.Once(EventPaymentPartial, func(ctx context.Context, evt ParsedEvent, dc DispatchContext) error {
		calls++
		return dispatcher.Dispatch(ctx, evt, dc)
	})

	if err := dispatcher.Dispatch(context.Background(), evt, DispatchContext{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), evt, DispatchContext{}); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected once handler to run a single time, got %d", calls)
	}
	if dispatcher.HandlerCount(EventPaymentPartial) != 0 {
		t.Fatalf("expected once handler to be removed")
	}
}

func TestDispatcher_SnapshotIgnoresChangesDuringPass(t *testing.T) {
	dispatcher := NewDispatcher()
	var order []string
	var second func()
	dispatcher.On(EventPaymentRefunded, func(context.Context, ParsedEvent, DispatchContext) error {
		order = append(order, "first")
		second()
		dispatcher.On(EventPaymentRefunded, func(context.Context, ParsedEvent, DispatchContext) error {
			order = append(order, "late")
			return nil
		})
		return nil
	})
	second = dispatcher.On(EventPaymentRefunded, func(context.Context, ParsedEvent, DispatchContext) error {
		order = append(order, "second")
		return nil
	})

	if err := dispatcher.Dispatch(context.Background(), ParsedEvent{Event: EventPaymentRefunded}, DispatchContext{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected snapshot order [first second], got %v", order)
	}
}

package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
)

// DispatchContext carries delivery details alongside the event.
type DispatchContext struct {
	Request    *http.Request
	DeliveryID string
	Attempt    int
	Metadata   map[string]any
}

type HandlerFunc func(ctx context.Context, evt ParsedEvent, dc DispatchContext) error

// Registration identifies one registered handler. Two registrations of the
// same function are distinct.
type Registration struct {
	id    uint64
	event EventName
}

func (r *Registration) Event() EventName {
	if r == nil {
		return ""
	}
	return r.event
}

type registeredHandler struct {
	id      uint64
	handler HandlerFunc
}

// Dispatcher fans a parsed event out to its handlers, one at a time, in
// registration order. The registry lock is never held while handlers run.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventName][]registeredHandler
	nextID   uint64
	logger   core.Logger
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handlers: map[EventName][]registeredHandler{}}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = core.ResolveLogger("webhooks.dispatcher", nil, d.logger)
	return d
}

// Subscribe registers handler for name and returns its registration.
func (d *Dispatcher) Subscribe(name EventName, handler HandlerFunc) *Registration {
	if handler == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[EventName][]registeredHandler{}
	}
	d.nextID++
	reg := &Registration{id: d.nextID, event: name}
	d.handlers[name] = append(d.handlers[name], registeredHandler{id: reg.id, handler: handler})
	return reg
}

// On registers handler and returns an idempotent unregister function.
func (d *Dispatcher) On(name EventName, handler HandlerFunc) func() {
	reg := d.Subscribe(name, handler)
	var once sync.Once
	return func() {
		once.Do(func() {
			d.Off(reg)
		})
	}
}

// Once registers a handler that unregisters itself right before its first
// invocation, so a reentrant dispatch from inside it does not run it again.
func (d *Dispatcher) Once(name EventName, handler HandlerFunc) func() {
	if handler == nil {
		return func() {}
	}
	var (
		fired atomic.Bool
		reg   *Registration
	)
	reg = d.Subscribe(name, func(ctx context.Context, evt ParsedEvent, dc DispatchContext) error {
		if !fired.CompareAndSwap(false, true) {
			return nil
		}
		d.Off(reg)
		return handler(ctx, evt, dc)
	})
	return func() {
		d.Off(reg)
	}
}

// Off removes a single registration. Removing an unknown or already removed
// registration is a no-op. Empty buckets are dropped.
func (d *Dispatcher) Off(reg *Registration) {
	if reg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	bucket := d.handlers[reg.event]
	for index, entry := range bucket {
		if entry.id != reg.id {
			continue
		}
		next := make([]registeredHandler, 0, len(bucket)-1)
		next = append(next, bucket[:index]...)
		next = append(next, bucket[index+1:]...)
		if len(next) == 0 {
			delete(d.handlers, reg.event)
		} else {
			d.handlers[reg.event] = next
		}
		return
	}
}

// Clear removes every registration for every event.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = map[EventName][]registeredHandler{}
}

// HandlerCount returns the handlers registered for names, or across all
// events when no name is given.
func (d *Dispatcher) HandlerCount(names ...EventName) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	if len(names) == 0 {
		for _, bucket := range d.handlers {
			total += len(bucket)
		}
		return total
	}
	for _, name := range names {
		total += len(d.handlers[name])
	}
	return total
}

// Dispatch invokes the handlers registered for evt.Event sequentially. The
// handler list is snapshotted first; the first handler error aborts the pass
// and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, evt ParsedEvent, dc DispatchContext) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	snapshot := append([]registeredHandler(nil), d.handlers[evt.Event]...)
	d.mu.RUnlock()
	if len(snapshot) == 0 {
		return nil
	}

	d.log(ctx).Debug("dispatching webhook event", "event", string(evt.Event), "handlers", len(snapshot))
	for index, entry := range snapshot {
		if err := entry.handler(ctx, evt, dc); err != nil {
			d.log(ctx).Error("webhook handler failed",
				"event", string(evt.Event),
				"handler_index", index,
				"error", err.Error(),
			)
			return goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("webhooks: %s handler %d failed", evt.Event, index)).
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorHandlerFailed).
				WithMetadata(map[string]any{"event": string(evt.Event), "handler_index": index})
		}
	}
	return nil
}

func (d *Dispatcher) log(ctx context.Context) core.Logger {
	logger := d.logger
	if logger == nil {
		logger = core.ResolveLogger("webhooks.dispatcher", nil, nil)
	}
	if ctx == nil {
		return logger
	}
	return logger.WithContext(ctx)
}

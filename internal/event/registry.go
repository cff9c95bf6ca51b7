package event

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	ErrPayloadType  = errors.New("event: unexpected payload type")
	ErrHandlerPanic = errors.New("event: handler panicked")
)

// Handler reacts to a published payload.
type Handler func(ctx context.Context, payload any) error

// Typed wraps fn so it only receives payloads of type T. Any other payload fails
// with ErrPayloadType without calling fn.
func Typed[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, payload any) error {
		p, ok := payload.(T)
		if !ok {
			var want T
			return fmt.Errorf("%w: got %T, want %T", ErrPayloadType, payload, want)
		}
		return fn(ctx, p)
	}
}

// Recorder receives dispatch counters.
type Recorder interface {
	EventDispatched(kind string)
	HandlerFailed(kind string)
}

// Result describes one handler invocation.
type Result struct {
	Err      error
	Panicked bool
	Duration time.Duration
}

// Registry maps event types to ordered handler lists and fans events out to them.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[Type][]Handler

	logger   *log.Logger
	timeout  time.Duration
	recorder Recorder
}

type Option func(*Registry)

func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTimeout bounds each handler call through its context. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[Type][]Handler),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add appends h to the handlers of t. Adding the same handler twice makes it run twice.
func (r *Registry) Add(t Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[t] = append(r.subs[t], h)
}

// Get returns a copy of the handlers registered for t in registration order.
func (r *Registry) Get(t Type) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subs[t]
	result := make([]Handler, len(subs))
	copy(result, subs)
	return result
}

// Dispatch calls every handler of t in registration order. A failing or panicking
// handler is logged and does not stop the ones after it.
func (r *Registry) Dispatch(ctx context.Context, t Type, payload any) []Result {
	handlers := r.Get(t)
	if r.recorder != nil {
		r.recorder.EventDispatched(t.String())
	}

	results := make([]Result, len(handlers))
	for i, h := range handlers {
		results[i] = r.execute(ctx, h, payload)

		if results[i].Err != nil {
			if r.recorder != nil {
				r.recorder.HandlerFailed(t.String())
			}
			r.logger.Error("Handler failed", "event", t, "id", EventID(ctx), "handler", i, "err", results[i].Err)
		}
	}

	return results
}

func (r *Registry) execute(ctx context.Context, h Handler, payload any) (result Result) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)

		if p := recover(); p != nil {
			result.Panicked = true
			result.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
			r.logger.Debug("Handler panic stack", "stack", string(debug.Stack()))
		}
	}()

	result.Err = h(ctx, payload)
	return result
}

// Package worker hosts a model pipeline behind the message protocol.
//
// A [Worker] is built from providers and handles one client's messages. A
// [Host] drives exactly one Worker over one [Conn]: a reader goroutine
// decodes frames into a bounded inbox, a dispatcher feeds them to the Worker
// in order, and a single writer goroutine serializes everything the Worker
// emits. Interrupts skip the inbox so they can cancel in-flight generation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/webai/internal/protocol"
)

var (
	// ErrNotLoaded is reported to clients that send work before a
	// successful load.
	ErrNotLoaded = errors.New("worker not loaded")

	// ErrClosed is returned by an Emitter after its connection closed.
	ErrClosed = errors.New("worker: connection closed")

	// ErrUnknownKind is returned by Registry.New for unregistered kinds.
	ErrUnknownKind = errors.New("worker: unknown kind")
)

// Worker hosts one model pipeline for one client.
//
// Load and Handle are called from a single dispatcher goroutine, never
// concurrently with each other. A Worker may start its own goroutines (for
// example a streaming reply) that keep emitting after Handle returns.
type Worker interface {
	// Kind names the pipeline, e.g. "conversation" or "vlm".
	Kind() string

	// Load prepares the models. It may emit progress and info messages, and
	// should emit a ready status with any extra data (such as voices). If it
	// does not, the Host emits a plain ready status on success.
	Load(ctx context.Context, opts protocol.LoadOptions, e Emitter) error

	// Handle processes one non-load message. A returned error is forwarded
	// to the client as an error message; the connection stays open.
	Handle(ctx context.Context, msg protocol.Message, e Emitter) error
}

// Interrupter is implemented by workers that can abort in-flight work. The
// Host calls Interrupt from its reader goroutine, outside message order.
type Interrupter interface {
	Interrupt()
}

// Emitter posts messages to the client. Implementations are safe for
// concurrent use.
type Emitter interface {
	// Emit encodes data as the payload of a message of type t and queues it
	// for writing. It returns ErrClosed once the connection has gone away.
	Emit(ctx context.Context, t protocol.Type, data any) error
}

// EmitStatus is a shorthand for emitting a status message.
func EmitStatus(ctx context.Context, e Emitter, s protocol.Status, message string, untilNext bool) error {
	d := protocol.StatusData{Status: s, Message: message}
	if untilNext {
		d.Duration = protocol.UntilNext
	}
	return e.Emit(ctx, protocol.TypeStatus, d)
}

// EmitInfo is a shorthand for emitting an info message.
func EmitInfo(ctx context.Context, e Emitter, message string, untilNext bool) error {
	d := protocol.InfoData{Message: message}
	if untilNext {
		d.Duration = protocol.UntilNext
	}
	return e.Emit(ctx, protocol.TypeInfo, d)
}

// EmitError is a shorthand for forwarding err as an error message.
func EmitError(ctx context.Context, e Emitter, err error) error {
	d := protocol.ErrorData{Message: err.Error()}
	if u := errors.Unwrap(err); u != nil {
		d.Error = u.Error()
	}
	return e.Emit(ctx, protocol.TypeError, d)
}

// Factory creates a fresh Worker for a new connection. ctx carries the
// connection's session ID.
type Factory func(ctx context.Context) (Worker, error)

// Registry maps worker kinds to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New creates a Worker of the given kind.
func (r *Registry) New(ctx context.Context, kind string) (Worker, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return f(ctx)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Preparer fetches whatever a worker needs before its providers can run,
// typically model files, and reports per-file progress.
type Preparer func(ctx context.Context, progress func(protocol.ProgressInfo)) error

// Prepare runs p, forwarding its progress as progress messages. A nil p is a
// no-op.
func Prepare(ctx context.Context, p Preparer, e Emitter) error {
	if p == nil {
		return nil
	}
	return p(ctx, func(info protocol.ProgressInfo) {
		_ = e.Emit(ctx, protocol.TypeProgress, protocol.ProgressData{Progress: info})
	})
}

// Package mock provides test doubles for the worker package: a channel-backed
// [Conn] standing in for a WebSocket, a [Worker] with scripted behaviour, and
// a recording [Emitter].
package mock

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
)

// Conn is an in-memory worker.Conn. Messages sent on In are returned by Read;
// closing In makes Read return io.EOF. Written messages are recorded and
// also published on the Out channel when it is non-nil.
type Conn struct {
	In  chan protocol.Message
	Out chan protocol.Message

	// WriteErr, if non-nil, is returned from every Write.
	WriteErr error

	mu          sync.Mutex
	written     []protocol.Message
	closed      bool
	closeReason string
}

// NewConn returns a Conn with buffered In and Out channels.
func NewConn() *Conn {
	return &Conn{
		In:  make(chan protocol.Message, 64),
		Out: make(chan protocol.Message, 256),
	}
}

// Read implements worker.Conn.
func (c *Conn) Read(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-c.In:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Write implements worker.Conn.
func (c *Conn) Write(ctx context.Context, msg protocol.Message) error {
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()
	if c.Out != nil {
		select {
		case c.Out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close implements worker.Conn.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

// Send queues a client message built from t and data. It panics if data
// cannot be encoded.
func (c *Conn) Send(t protocol.Type, data any) {
	msg, err := protocol.New(t, data)
	if err != nil {
		panic(err)
	}
	c.In <- msg
}

// Written returns a copy of every message written so far.
func (c *Conn) Written() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.written...)
}

// Closed reports whether Close was called and with which reason.
func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// Next waits up to timeout for the next written message whose type is t,
// skipping others. It returns false on timeout.
func (c *Conn) Next(t protocol.Type, timeout time.Duration) (protocol.Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.Out:
			if msg.Type == t {
				return msg, true
			}
		case <-deadline:
			return protocol.Message{}, false
		}
	}
}

// Emitter is a worker.Emitter that records every message.
type Emitter struct {
	mu       sync.Mutex
	messages []protocol.Message

	// Err, if non-nil, is returned from Emit instead of recording.
	Err error
}

// Emit implements worker.Emitter.
func (e *Emitter) Emit(_ context.Context, t protocol.Type, data any) error {
	if e.Err != nil {
		return e.Err
	}
	msg, err := protocol.New(t, data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()
	return nil
}

// Messages returns a copy of the recorded messages.
func (e *Emitter) Messages() []protocol.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]protocol.Message(nil), e.messages...)
}

// OfType returns the recorded messages whose type is t.
func (e *Emitter) OfType(t protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range e.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Statuses returns the status payloads in emission order.
func (e *Emitter) Statuses() []protocol.StatusData {
	var out []protocol.StatusData
	for _, m := range e.OfType(protocol.TypeStatus) {
		var sd protocol.StatusData
		if err := json.Unmarshal(m.Data, &sd); err == nil {
			out = append(out, sd)
		}
	}
	return out
}

// Reset clears the recorded messages.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = nil
}

// Worker is a scripted worker.Worker.
type Worker struct {
	// KindName is returned by Kind. Default: "mock".
	KindName string

	// LoadErr, if non-nil, is returned from Load.
	LoadErr error

	// ReadyVoices, if non-nil, makes Load emit its own ready status carrying
	// these voices.
	ReadyVoices []protocol.Voice

	// HandleFunc, if set, is called by Handle. Otherwise Handle records the
	// message and returns HandleErr.
	HandleFunc func(ctx context.Context, msg protocol.Message, e worker.Emitter) error
	HandleErr  error

	mu         sync.Mutex
	loadCalls  []protocol.LoadOptions
	handled    []protocol.Message
	interrupts int
	closeCalls int
}

// Kind implements worker.Worker.
func (w *Worker) Kind() string {
	if w.KindName == "" {
		return "mock"
	}
	return w.KindName
}

// Load implements worker.Worker.
func (w *Worker) Load(ctx context.Context, opts protocol.LoadOptions, e worker.Emitter) error {
	w.mu.Lock()
	w.loadCalls = append(w.loadCalls, opts)
	w.mu.Unlock()
	if w.LoadErr != nil {
		return w.LoadErr
	}
	if w.ReadyVoices != nil {
		return e.Emit(ctx, protocol.TypeStatus, protocol.StatusData{
			Status:  protocol.StatusReady,
			Message: "Ready!",
			Voices:  w.ReadyVoices,
		})
	}
	return nil
}

// Handle implements worker.Worker.
func (w *Worker) Handle(ctx context.Context, msg protocol.Message, e worker.Emitter) error {
	w.mu.Lock()
	w.handled = append(w.handled, msg)
	fn := w.HandleFunc
	w.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg, e)
	}
	return w.HandleErr
}

// Interrupt implements worker.Interrupter.
func (w *Worker) Interrupt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interrupts++
}

// Close implements io.Closer.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCalls++
	return nil
}

// LoadCalls returns the options passed to each Load call.
func (w *Worker) LoadCalls() []protocol.LoadOptions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.LoadOptions(nil), w.loadCalls...)
}

// Handled returns the messages passed to Handle.
func (w *Worker) Handled() []protocol.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Message(nil), w.handled...)
}

// Interrupts returns the number of Interrupt calls.
func (w *Worker) Interrupts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interrupts
}

// CloseCalls returns the number of Close calls.
func (w *Worker) CloseCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCalls
}

var (
	_ worker.Conn        = (*Conn)(nil)
	_ worker.Emitter     = (*Emitter)(nil)
	_ worker.Worker      = (*Worker)(nil)
	_ worker.Interrupter = (*Worker)(nil)
)

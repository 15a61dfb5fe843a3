package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/webai/internal/observe"
	"github.com/MrWong99/webai/internal/protocol"
)

const (
	defaultInboxSize  = 64
	defaultOutboxSize = 256
)

// Conn is one client connection carrying protocol messages.
type Conn interface {
	// Read blocks until the next message arrives. It returns io.EOF when the
	// client closed the connection normally.
	Read(ctx context.Context) (protocol.Message, error)

	// Write sends one message. Calls are serialized by the Host.
	Write(ctx context.Context, msg protocol.Message) error

	// Close tears the connection down.
	Close(reason string) error
}

// HostOption is a functional option for [NewHost].
type HostOption func(*Host)

// WithInboxSize sets the inbox capacity. When the inbox is full, audio
// chunks are dropped and other messages wait. Default: 64.
func WithInboxSize(n int) HostOption {
	return func(h *Host) { h.inboxSize = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) HostOption {
	return func(h *Host) { h.metrics = m }
}

// Host drives one Worker over one Conn.
type Host struct {
	w         Worker
	conn      Conn
	inboxSize int
	metrics   *observe.Metrics

	outbox chan protocol.Message
	done   chan struct{}

	mu         sync.Mutex
	loaded     bool
	readyState *protocol.StatusData
}

// NewHost creates a Host. Call Run to start it.
func NewHost(w Worker, conn Conn, opts ...HostOption) *Host {
	h := &Host{
		w:         w,
		conn:      conn,
		inboxSize: defaultInboxSize,
		outbox:    make(chan protocol.Message, defaultOutboxSize),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Run serves the connection until the client disconnects or ctx is
// cancelled. It returns nil on a normal close. The worker is closed on
// return if it implements io.Closer.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := observe.Logger(ctx).With("worker", h.w.Kind())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(ctx, cancel)
	}()

	inbox := make(chan protocol.Message, h.inboxSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(inbox)
		readErr <- h.readLoop(ctx, inbox)
	}()

	for msg := range inbox {
		h.dispatch(ctx, msg)
	}

	// Reader is gone: stop in-flight work, then the writer.
	cancel()
	close(h.done)
	wg.Wait()

	if c, ok := h.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("worker: close failed", "error", err)
		}
	}

	err := <-readErr
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Host) readLoop(ctx context.Context, inbox chan<- protocol.Message) error {
	kind := h.w.Kind()
	for {
		msg, err := h.conn.Read(ctx)
		if err != nil {
			return err
		}
		h.metrics.RecordMessage(ctx, kind, string(msg.Type), observe.DirectionIn)

		if msg.Type == protocol.TypeInterrupt {
			if !h.isLoaded() {
				_ = h.Emit(ctx, protocol.TypeError, protocol.ErrorData{Message: ErrNotLoaded.Error()})
				continue
			}
			if in, ok := h.w.(Interrupter); ok {
				in.Interrupt()
			}
			continue
		}

		if msg.Type == protocol.TypeAudio {
			select {
			case inbox <- msg:
			default:
				h.metrics.RecordDropped(ctx, kind, string(msg.Type))
				slog.Debug("worker: inbox full, dropping audio chunk", "worker", kind)
			}
			continue
		}

		select {
		case inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	kind := h.w.Kind()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.outbox:
			if err := h.conn.Write(ctx, msg); err != nil {
				if ctx.Err() == nil {
					slog.Debug("worker: write failed", "worker", kind, "error", err)
				}
				cancel()
				return
			}
			h.metrics.RecordMessage(ctx, kind, string(msg.Type), observe.DirectionOut)
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg protocol.Message) {
	log := observe.Logger(ctx).With("worker", h.w.Kind())

	if msg.Type == protocol.TypeLoad {
		h.load(ctx, msg)
		return
	}
	if !h.isLoaded() {
		_ = h.Emit(ctx, protocol.TypeError, protocol.ErrorData{Message: ErrNotLoaded.Error()})
		return
	}
	// Audio chunks arrive every few milliseconds and are not traced.
	if msg.Type != protocol.TypeAudio {
		ctx, span := observe.StartSpan(ctx, "worker."+string(msg.Type),
			trace.WithAttributes(observe.Attr("worker", h.w.Kind())))
		observe.EndSpan(span, h.handle(ctx, msg, log))
		return
	}
	_ = h.handle(ctx, msg, log)
}

func (h *Host) handle(ctx context.Context, msg protocol.Message, log *slog.Logger) error {
	err := h.w.Handle(ctx, msg, h)
	if err == nil || ctx.Err() != nil {
		return err
	}
	log.Warn("worker: handler failed", "type", msg.Type, "error", err)
	_ = EmitError(ctx, h, err)
	return err
}

func (h *Host) load(ctx context.Context, msg protocol.Message) {
	log := observe.Logger(ctx).With("worker", h.w.Kind())

	h.mu.Lock()
	loaded, ready := h.loaded, h.readyState
	h.mu.Unlock()
	if loaded {
		_ = h.Emit(ctx, protocol.TypeStatus, *ready)
		return
	}

	var data protocol.LoadData
	if err := msg.Decode(&data); err != nil {
		_ = EmitError(ctx, h, err)
		return
	}

	_ = EmitStatus(ctx, h, protocol.StatusLoading, "Loading model...", false)
	start := time.Now()
	if err := h.w.Load(ctx, data.Options, h); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("worker: load failed", "error", err)
		_ = EmitError(ctx, h, err)
		return
	}
	h.metrics.LoadDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("worker", h.w.Kind())))

	h.mu.Lock()
	h.loaded = true
	if h.readyState == nil {
		h.readyState = &protocol.StatusData{Status: protocol.StatusReady, Message: "Ready!"}
		h.mu.Unlock()
		_ = h.Emit(ctx, protocol.TypeStatus, *h.readyState)
	} else {
		h.mu.Unlock()
	}
	log.Info("worker: loaded", "duration", time.Since(start))
}

func (h *Host) isLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Emit implements [Emitter]. A ready status is remembered so a repeated
// load can replay it.
func (h *Host) Emit(ctx context.Context, t protocol.Type, data any) error {
	if sd, ok := data.(protocol.StatusData); ok && t == protocol.TypeStatus && sd.Status == protocol.StatusReady {
		h.mu.Lock()
		h.readyState = &sd
		h.mu.Unlock()
	}

	msg, err := protocol.New(t, data)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.outbox <- msg:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

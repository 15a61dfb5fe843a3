package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/internal/worker"
	"github.com/MrWong99/webai/internal/worker/mock"
)

const waitTimeout = 2 * time.Second

func startHost(t *testing.T, w worker.Worker, opts ...worker.HostOption) (*mock.Conn, <-chan error) {
	t.Helper()
	conn := mock.NewConn()
	h := worker.NewHost(w, conn, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	return conn, errc
}

func decode[T any](t *testing.T, msg protocol.Message) T {
	t.Helper()
	var v T
	if err := msg.Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", msg.Type, err)
	}
	return v
}

func nextStatus(t *testing.T, conn *mock.Conn) protocol.StatusData {
	t.Helper()
	msg, ok := conn.Next(protocol.TypeStatus, waitTimeout)
	if !ok {
		t.Fatal("timed out waiting for status")
	}
	return decode[protocol.StatusData](t, msg)
}

func nextError(t *testing.T, conn *mock.Conn) protocol.ErrorData {
	t.Helper()
	msg, ok := conn.Next(protocol.TypeError, waitTimeout)
	if !ok {
		t.Fatal("timed out waiting for error")
	}
	return decode[protocol.ErrorData](t, msg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHost_LoadEmitsLoadingThenReady(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{}
	conn, _ := startHost(t, w)
	conn.Send(protocol.TypeLoad, protocol.LoadData{Options: protocol.LoadOptions{Voice: "af_heart"}})

	if s := nextStatus(t, conn); s.Status != protocol.StatusLoading {
		t.Fatalf("first status = %q, want loading", s.Status)
	}
	if s := nextStatus(t, conn); s.Status != protocol.StatusReady || s.Message != "Ready!" {
		t.Fatalf("second status = %+v, want ready", s)
	}
	calls := w.LoadCalls()
	if len(calls) != 1 || calls[0].Voice != "af_heart" {
		t.Errorf("LoadCalls = %+v", calls)
	}
}

func TestHost_SecondLoadReplaysReady(t *testing.T) {
	t.Parallel()

	voices := []protocol.Voice{{ID: "af_heart", Name: "Heart"}}
	w := &mock.Worker{ReadyVoices: voices}
	conn, _ := startHost(t, w)

	conn.Send(protocol.TypeLoad, nil)
	nextStatus(t, conn) // loading
	first := nextStatus(t, conn)
	if first.Status != protocol.StatusReady || len(first.Voices) != 1 {
		t.Fatalf("ready = %+v, want ready with one voice", first)
	}

	conn.Send(protocol.TypeLoad, nil)
	again := nextStatus(t, conn)
	if again.Status != protocol.StatusReady || len(again.Voices) != 1 || again.Voices[0].ID != "af_heart" {
		t.Errorf("replayed ready = %+v", again)
	}
	if n := len(w.LoadCalls()); n != 1 {
		t.Errorf("Load called %d times, want 1", n)
	}
}

func TestHost_RejectsWorkBeforeLoad(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{}
	conn, _ := startHost(t, w)
	conn.Send(protocol.TypeProcess, protocol.ProcessData{Instruction: "hi"})

	if e := nextError(t, conn); e.Message != "worker not loaded" {
		t.Errorf("error = %q, want %q", e.Message, "worker not loaded")
	}
	if n := len(w.Handled()); n != 0 {
		t.Errorf("Handle called %d times before load", n)
	}
}

func TestHost_RejectsInterruptBeforeLoad(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{}
	conn, _ := startHost(t, w)
	conn.Send(protocol.TypeInterrupt, nil)

	if e := nextError(t, conn); e.Message != "worker not loaded" {
		t.Errorf("error = %q, want %q", e.Message, "worker not loaded")
	}
	if n := w.Interrupts(); n != 0 {
		t.Errorf("Interrupt called %d times before load", n)
	}
}

func TestHost_LoadFailureLeavesWorkerUnloaded(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{LoadErr: fmt.Errorf("vlm: load: %w", errors.New("no such model"))}
	conn, _ := startHost(t, w)

	conn.Send(protocol.TypeLoad, nil)
	e := nextError(t, conn)
	if e.Message != "vlm: load: no such model" || e.Error != "no such model" {
		t.Errorf("error = %+v", e)
	}

	conn.Send(protocol.TypeProcess, nil)
	if e := nextError(t, conn); e.Message != "worker not loaded" {
		t.Errorf("error after failed load = %q", e.Message)
	}
}

func TestHost_HandlerErrorKeepsConnectionOpen(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{HandleErr: errors.New("inference failed")}
	conn, _ := startHost(t, w)
	conn.Send(protocol.TypeLoad, nil)
	nextStatus(t, conn)
	nextStatus(t, conn)

	conn.Send(protocol.TypeProcess, nil)
	if e := nextError(t, conn); e.Message != "inference failed" {
		t.Errorf("error = %q", e.Message)
	}
	conn.Send(protocol.TypeProcess, nil)
	nextError(t, conn)

	if n := len(w.Handled()); n != 2 {
		t.Errorf("Handle called %d times, want 2", n)
	}
}

func TestHost_InterruptBypassesQueue(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	w := &mock.Worker{
		HandleFunc: func(ctx context.Context, _ protocol.Message, _ worker.Emitter) error {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return nil
		},
	}
	conn, _ := startHost(t, w)
	conn.Send(protocol.TypeLoad, nil)
	nextStatus(t, conn)
	nextStatus(t, conn)

	conn.Send(protocol.TypeProcess, nil)
	waitFor(t, "handler to start", func() bool { return len(w.Handled()) == 1 })

	conn.Send(protocol.TypeInterrupt, nil)
	waitFor(t, "interrupt", func() bool { return w.Interrupts() == 1 })
	close(gate)

	for _, m := range w.Handled() {
		if m.Type == protocol.TypeInterrupt {
			t.Error("interrupt was queued to Handle")
		}
	}
}

func TestHost_DropsAudioWhenInboxFull(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	w := &mock.Worker{
		HandleFunc: func(ctx context.Context, msg protocol.Message, _ worker.Emitter) error {
			if msg.Type == protocol.TypeAudio {
				select {
				case <-gate:
				case <-ctx.Done():
				}
			}
			return nil
		},
	}
	conn, _ := startHost(t, w, worker.WithInboxSize(1))
	conn.Send(protocol.TypeLoad, nil)
	nextStatus(t, conn)
	nextStatus(t, conn)

	const sent = 10
	for range sent {
		conn.Send(protocol.TypeAudio, protocol.AudioData{Buffer: make(protocol.Samples, 4)})
	}
	conn.Send(protocol.TypeStartCall, nil)
	waitFor(t, "reader to drain", func() bool { return len(conn.In) == 0 })
	time.Sleep(20 * time.Millisecond)
	close(gate)

	waitFor(t, "start_call", func() bool {
		h := w.Handled()
		return len(h) > 0 && h[len(h)-1].Type == protocol.TypeStartCall
	})

	audio := 0
	for _, m := range w.Handled() {
		if m.Type == protocol.TypeAudio {
			audio++
		}
	}
	if audio == 0 || audio >= sent {
		t.Errorf("handled %d audio chunks, want between 1 and %d", audio, sent-1)
	}
}

func TestHost_RunReturnsOnClientClose(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{}
	conn, errc := startHost(t, w)
	close(conn.In)

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	if n := w.CloseCalls(); n != 1 {
		t.Errorf("worker closed %d times, want 1", n)
	}
}

func TestHost_RunReturnsWriteError(t *testing.T) {
	t.Parallel()

	w := &mock.Worker{}
	conn := mock.NewConn()
	conn.WriteErr = errors.New("broken pipe")
	h := worker.NewHost(w, conn)

	errc := make(chan error, 1)
	go func() { errc <- h.Run(context.Background()) }()
	conn.Send(protocol.TypeLoad, nil)

	select {
	case err := <-errc:
		// The reader sees the cancelled context once the writer gives up.
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after write failure")
	}
}

func TestHost_EmitAfterCloseReturnsErrClosed(t *testing.T) {
	t.Parallel()

	emitted := make(chan worker.Emitter, 1)
	w := &mock.Worker{
		HandleFunc: func(_ context.Context, _ protocol.Message, e worker.Emitter) error {
			emitted <- e
			return nil
		},
	}
	conn, errc := startHost(t, w)
	conn.Send(protocol.TypeLoad, nil)
	nextStatus(t, conn)
	nextStatus(t, conn)
	conn.Send(protocol.TypeStartCall, nil)
	e := <-emitted

	close(conn.In)
	<-errc

	err := e.Emit(context.Background(), protocol.TypeInfo, protocol.InfoData{Message: "late"})
	if !errors.Is(err, worker.ErrClosed) {
		t.Errorf("Emit after close = %v, want ErrClosed", err)
	}
}

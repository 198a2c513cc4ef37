package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type message struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id,omitempty"`
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Deliver(context.Context, message) error {
	<-s.gate
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink[message](8)
	d := NewDispatcher[message](Config{BufferSize: 8}, sink, nil)
	defer d.Close()

	for _, k := range []string{"a", "b", "c"} {
		if !d.Emit(context.Background(), message{Kind: k}) {
			t.Fatalf("expected %q to be queued", k)
		}
	}
	d.Wait()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-sink.Items():
			if got.Kind != want {
				t.Fatalf("expected %q, got %q", want, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDispatcherDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher[message](Config{BufferSize: 1, DropIfFull: true}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), message{Kind: "e1"})
	d.Emit(context.Background(), message{Kind: "e2"})

	start := time.Now()
	d.Emit(context.Background(), message{Kind: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestDispatcherBlocksUntilSpaceWhenNotDropping(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher[message](Config{BufferSize: 1}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), message{Kind: "e1"})
	d.Emit(context.Background(), message{Kind: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), message{Kind: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestDispatcherReportsFailures(t *testing.T) {
	var observed atomic.Int64
	failing := SinkFunc[message](func(context.Context, message) error {
		return errors.New("webhook down")
	})
	d := NewDispatcher[message](Config{BufferSize: 4}, failing, func(_ message, err error) {
		if err != nil {
			observed.Add(1)
		}
	})

	d.Emit(context.Background(), message{Kind: "e1"})
	d.Emit(context.Background(), message{Kind: "e2"})
	d.Wait()
	d.Close()

	if d.Failed() != 2 || observed.Load() != 2 {
		t.Fatalf("expected 2 failures, got failed=%d observed=%d", d.Failed(), observed.Load())
	}
}

func TestDispatcherTimeoutBoundsDelivery(t *testing.T) {
	slow := SinkFunc[message](func(ctx context.Context, _ message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d := NewDispatcher[message](Config{BufferSize: 1, Timeout: 20 * time.Millisecond}, slow, nil)
	defer d.Close()

	d.Emit(context.Background(), message{Kind: "slow"})

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivery to be bounded by timeout")
	}
	if d.Failed() != 1 {
		t.Fatalf("expected timed out delivery to count as failure, got %d", d.Failed())
	}
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf lockedBuffer
	sink := NewJSONWriterSink[message](&buf)

	if err := sink.Deliver(context.Background(), message{Kind: "new_device_login", UserID: "u1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\"kind\":\"new_device_login\"") || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected JSON line: %q", out)
	}
}

func TestDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher[message](Config{BufferSize: 4, DropIfFull: true}, NoOpSink[message]{}, nil)

	d.Emit(context.Background(), message{Kind: "e1"})
	d.Close()
	d.Close()
	if d.Emit(context.Background(), message{Kind: "e2"}) {
		t.Fatal("expected emit after close to be rejected")
	}
	d.Wait()
}

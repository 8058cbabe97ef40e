package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"appbridge/pkg/body"
	"appbridge/pkg/bridge"
	"appbridge/pkg/proto"
)

type startCall struct {
	status  string
	headers []proto.HeaderPair
	fault   *proto.Fault
}

type startRecorder struct {
	calls []startCall
}

func (s *startRecorder) fn(status string, headers []proto.HeaderPair, fault *proto.Fault) (proto.WriteFunc, error) {
	s.calls = append(s.calls, startCall{status: status, headers: headers, fault: fault})
	return func([]byte) error { return nil }, nil
}

func getEnviron() *proto.Environ {
	scope := &proto.Scope{Kind: proto.KindHTTP, Proto: "1.1", Method: "GET", Scheme: "http", Path: "/"}
	return proto.BuildEnviron(scope, nil)
}

func postEnviron(payload string) *proto.Environ {
	scope := &proto.Scope{
		Kind: proto.KindHTTP, Proto: "1.1", Method: "POST", Scheme: "http", Path: "/",
		Headers: []proto.HeaderPair{{Name: "content-length", Value: fmt.Sprint(len(payload))}},
	}
	return proto.BuildEnviron(scope, body.FromReader(strings.NewReader(payload)))
}

// drain pulls the stream to completion and returns all chunks.
func drain(t *testing.T, stream proto.BodyStream) ([][]byte, error) {
	t.Helper()
	var chunks [][]byte
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func joined(chunks [][]byte) string {
	var b strings.Builder
	for _, c := range chunks {
		b.Write(c)
	}
	return b.String()
}

func TestSyncBridgeHelloWorld(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		err := send(ctx, proto.ResponseStart{Status: 200, Headers: []proto.HeaderPair{{Name: "content-type", Value: "text/plain"}}})
		if err != nil {
			return err
		}
		return send(ctx, proto.ResponseChunk{Body: []byte("Hello, World!"), More: false})
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "Hello, World!" {
		t.Fatalf("unexpected body %q", joined(chunks))
	}
	// closing zero-length terminator
	if len(chunks) < 2 || len(chunks[len(chunks)-1]) != 0 {
		t.Fatalf("expected empty terminator chunk, got %q", chunks)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one start call, got %d", len(rec.calls))
	}
	if rec.calls[0].status != "200 OK" || rec.calls[0].fault != nil {
		t.Fatalf("unexpected start call: %+v", rec.calls[0])
	}
}

func TestSyncBridgeEcho(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		var got []byte
		for more := true; more; {
			msg, err := receive(ctx)
			if err != nil {
				return err
			}
			chunk, ok := msg.(proto.RequestChunk)
			if !ok {
				return fmt.Errorf("unexpected message %T", msg)
			}
			got = append(got, chunk.Body...)
			more = chunk.More
		}
		// past exhaustion the request side reports a disconnect
		if msg, err := receive(ctx); err != nil {
			return err
		} else if _, ok := msg.(proto.Disconnect); !ok {
			return fmt.Errorf("expected disconnect at exhaustion, got %T", msg)
		}
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		return send(ctx, proto.ResponseChunk{Body: got, More: false})
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(postEnviron("hello bridge"), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "hello bridge" {
		t.Fatalf("unexpected body %q", joined(chunks))
	}
}

func TestSyncBridgeChunkedReads(t *testing.T) {
	payload := strings.Repeat("x", 10) + strings.Repeat("y", 10)
	var sizes []int
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		for more := true; more; {
			msg, err := receive(ctx)
			if err != nil {
				return err
			}
			chunk := msg.(proto.RequestChunk)
			sizes = append(sizes, len(chunk.Body))
			more = chunk.More
		}
		if err := send(ctx, proto.ResponseStart{Status: 204}); err != nil {
			return err
		}
		return send(ctx, proto.ResponseChunk{More: false})
	}
	b := bridge.NewSyncBridge(app, bridge.WithChunkSize(8))
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(postEnviron(payload), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := drain(t, stream); err != nil {
		t.Fatalf("drain: %v", err)
	}
	// 20 bytes through an 8-byte bound: 8, 8, 4
	if len(sizes) != 3 || sizes[0] != 8 || sizes[1] != 8 || sizes[2] != 4 {
		t.Fatalf("unexpected read sizes %v", sizes)
	}
}

func TestSyncBridgeFaultBeforeStart(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		return errors.New("exploded before starting")
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "Internal Server Error" {
		t.Fatalf("expected diagnostic body, got %q", joined(chunks))
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected one synthesized start call, got %d", len(rec.calls))
	}
	call := rec.calls[0]
	if call.status != "500 Internal Server Error" || call.fault == nil {
		t.Fatalf("unexpected start call: %+v", call)
	}
}

func TestSyncBridgePanicBeforeStart(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		panic("kaboom")
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := drain(t, stream); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0].fault == nil || rec.calls[0].fault.Kind != proto.FaultPanic {
		t.Fatalf("expected a panic fault on the start call, got %+v", rec.calls)
	}
}

func TestSyncBridgeFaultAfterStart(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		if err := send(ctx, proto.ResponseChunk{Body: []byte("partial"), More: true}); err != nil {
			return err
		}
		return errors.New("died mid-stream")
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "partial" {
		t.Fatalf("no diagnostic body may be appended mid-stream, got %q", joined(chunks))
	}
	// the fault still surfaces through a second start call as context only
	if len(rec.calls) != 2 || rec.calls[1].fault == nil {
		t.Fatalf("expected fault-context start call, got %+v", rec.calls)
	}
	if rec.calls[0].status != "200 OK" {
		t.Fatalf("first start call must stay authoritative, got %+v", rec.calls[0])
	}
}

func TestSyncBridgeDuplicateStartIsViolation(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		return send(ctx, proto.ResponseStart{Status: 201})
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	_, err = drain(t, stream)
	if !errors.Is(err, proto.ErrProtocolViolation) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestSyncBridgeChunkBeforeStartIsViolation(t *testing.T) {
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		return send(ctx, proto.ResponseChunk{Body: []byte("early"), More: true})
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := drain(t, stream); !errors.Is(err, proto.ErrProtocolViolation) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestSyncBridgeOrderedChunks(t *testing.T) {
	const n = 10
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := send(ctx, proto.ResponseChunk{Body: []byte{byte('0' + i)}, More: true}); err != nil {
				return err
			}
		}
		return send(ctx, proto.ResponseChunk{More: false})
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "0123456789" {
		t.Fatalf("chunks out of order: %q", joined(chunks))
	}
}

func TestSyncBridgeZeroWaitBudgetSkipsBackgroundWork(t *testing.T) {
	released := make(chan struct{})
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		if err := send(ctx, proto.ResponseChunk{Body: []byte("done"), More: false}); err != nil {
			return err
		}
		// leftover background work; cancelled rather than awaited
		select {
		case <-ctx.Done():
			close(released)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("background work was never cancelled")
		}
	}
	b := bridge.NewSyncBridge(app, bridge.WithWaitBudget(0))
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	start := time.Now()
	chunks, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if joined(chunks) != "done" {
		t.Fatalf("unexpected body %q", joined(chunks))
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("finalize waited for background work despite a zero budget")
	}
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("background work was not cancelled")
	}
}

func TestSyncBridgeReceiveAfterCompletionDisconnects(t *testing.T) {
	got := make(chan proto.RequestMessage, 1)
	app := func(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
		if err := send(ctx, proto.ResponseStart{Status: 200}); err != nil {
			return err
		}
		if err := send(ctx, proto.ResponseChunk{More: false}); err != nil {
			return err
		}
		// the driving side is gone; this must not hang
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		got <- msg
		return nil
	}
	b := bridge.NewSyncBridge(app)
	defer b.Close()

	rec := &startRecorder{}
	stream, err := b.Invoke(getEnviron(), rec.fn)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := drain(t, stream); err != nil {
		t.Fatalf("drain: %v", err)
	}
	select {
	case msg := <-got:
		if _, ok := msg.(proto.Disconnect); !ok {
			t.Fatalf("expected disconnect after completion, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive hung after response completion")
	}
}

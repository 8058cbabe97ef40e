package bridge

import (
	"context"
	"io"
	"time"

	"appbridge/pkg/exchange"
	"appbridge/pkg/logger"
	"appbridge/pkg/loop"
	"appbridge/pkg/metrics"
	"appbridge/pkg/proto"
)

// DefaultChunkSize bounds how much request body is pulled per inbound
// data request.
const DefaultChunkSize = 64 * 1024

// diagnosticBody is the fixed body of the synthesized 500 response when
// the application fails before starting one.
const diagnosticBody = "Internal Server Error"

// SyncBridge invokes an async application through the synchronous pull
// contract. One instance owns one background loop and is safe for
// concurrent use across requests; per-request state lives in the stream
// returned by Invoke.
type SyncBridge struct {
	app        proto.AsyncHandler
	loop       *loop.Loop
	ownLoop    bool
	waitBudget time.Duration
	chunkSize  int
}

// SyncOption configures a SyncBridge.
type SyncOption func(*SyncBridge)

// WithLoop supplies an externally owned loop. The bridge will not close
// it.
func WithLoop(l *loop.Loop) SyncOption {
	return func(b *SyncBridge) { b.loop = l }
}

// WithWaitBudget bounds how long Invoke's stream waits for leftover
// background work after the response is complete before cancelling it.
// Zero returns immediately; negative (the default) waits indefinitely.
func WithWaitBudget(d time.Duration) SyncOption {
	return func(b *SyncBridge) { b.waitBudget = d }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) SyncOption {
	return func(b *SyncBridge) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// NewSyncBridge wraps app. Close the bridge to release its loop.
func NewSyncBridge(app proto.AsyncHandler, opts ...SyncOption) *SyncBridge {
	b := &SyncBridge{app: app, waitBudget: -1, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(b)
	}
	if b.loop == nil {
		b.loop = loop.New()
		b.ownLoop = true
	}
	return b
}

// Close releases the bridge's loop when it owns one.
func (b *SyncBridge) Close() error {
	if b.ownLoop {
		return b.loop.Close()
	}
	return nil
}

// driverEvent multiplexes the application's outbound messages with its
// inbound data requests onto the one cell the driving goroutine takes
// from. A nil msg is a data request.
type driverEvent struct {
	msg proto.ResponseMessage
}

// Invoke satisfies proto.SyncHandler. The returned stream drives the
// wrapped application lazily: each Next call blocks on the exchange for
// the next message the task produces.
func (b *SyncBridge) Invoke(env *proto.Environ, start proto.StartResponse) (proto.BodyStream, error) {
	scope := proto.BuildScope(env)
	events := exchange.New[driverEvent]()
	replies := exchange.New[proto.RequestMessage]()

	receive := func(ctx context.Context) (proto.RequestMessage, error) {
		if err := events.PutWait(ctx, driverEvent{}); err != nil {
			return nil, err
		}
		msg, ok, err := replies.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			// terminal fast path: the driving side will not post again
			return proto.Disconnect{}, nil
		}
		return msg, nil
	}
	send := func(ctx context.Context, msg proto.ResponseMessage) error {
		return events.PutWait(ctx, driverEvent{msg: msg})
	}

	task, err := b.loop.Spawn(func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = proto.RecoverFault(r)
			}
			if err != nil {
				fault := proto.NewFault(err)
				events.Put(driverEvent{msg: proto.AppError{Fault: fault}})
				err = fault
			}
		}()
		return b.app(ctx, scope, receive, send)
	})
	if err != nil {
		return nil, err
	}

	metrics.Inflight.WithLabelValues(metrics.AdapterSync).Inc()
	return &syncStream{
		b:             b,
		env:           env,
		start:         start,
		task:          task,
		events:        events,
		replies:       replies,
		contentLength: env.ContentLength(),
	}, nil
}

// syncStream is the per-request driving state machine. It is consumed
// from a single goroutine, the caller of Next.
type syncStream struct {
	b       *SyncBridge
	env     *proto.Environ
	start   proto.StartResponse
	task    *loop.Task
	events  *exchange.Cell[driverEvent]
	replies *exchange.Cell[proto.RequestMessage]

	contentLength int64
	readCount     int64

	started    bool
	stop       bool
	fault      *proto.Fault
	violation  error
	tail       [][]byte
	finalized  bool
	terminated bool
}

func (s *syncStream) Next() ([]byte, error) {
	if s.terminated {
		return nil, io.EOF
	}
	for !s.stop && !s.finalized {
		ev, ok, err := s.takeEvent()
		if err != nil {
			return s.fail(err)
		}
		if !ok {
			break
		}
		chunk, emit, err := s.handle(ev)
		if err != nil {
			return s.fail(err)
		}
		if emit {
			return chunk, nil
		}
	}
	return s.finalize()
}

// takeEvent blocks for the next driver event, resolving ok=false once
// the task has finished and nothing is left to deliver.
func (s *syncStream) takeEvent() (driverEvent, bool, error) {
	ev, err := s.events.Take(s.task.Context())
	if err == nil {
		return ev, true, nil
	}
	// the task context is done: completed or cancelled; drain a message
	// posted right before the end
	if ev, ok := s.events.TryTake(); ok {
		return ev, true, nil
	}
	return driverEvent{}, false, nil
}

func (s *syncStream) handle(ev driverEvent) ([]byte, bool, error) {
	if ev.msg == nil {
		s.replyData()
		return nil, false, nil
	}
	switch m := ev.msg.(type) {
	case proto.ResponseStart:
		if s.started {
			return nil, false, proto.Violationf("response already started")
		}
		s.started = true
		if _, err := s.start(proto.StatusLine(m.Status), m.Headers, nil); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case proto.ResponseChunk:
		if !s.started {
			return nil, false, proto.Violationf("response chunk before response start")
		}
		if !m.More {
			s.stop = true
		}
		metrics.BodyBytes.WithLabelValues(metrics.AdapterSync, "out").Add(float64(len(m.Body)))
		return m.Body, true, nil
	case proto.ResponseDisconnect:
		s.stop = true
		return nil, false, nil
	case proto.AppError:
		s.fault = m.Fault
		s.stop = true
		return nil, false, nil
	default:
		return nil, false, proto.Violationf("unexpected response message %T", ev.msg)
	}
}

// replyData answers one inbound data request with up to chunkSize bytes
// of request body, bounded by the declared content length. At or past
// exhaustion a Disconnect is delivered instead of an empty chunk and
// the underlying input is never touched.
func (s *syncStream) replyData() {
	if s.readCount >= s.contentLength || s.env.Input == nil {
		s.replies.Put(proto.Disconnect{})
		return
	}
	n := s.b.chunkSize
	if rem := s.contentLength - s.readCount; int64(n) > rem {
		n = int(rem)
	}
	data, err := s.env.Input.Read(n)
	if err != nil {
		logger.Warn("request_body_read_failed", "error", err)
		s.readCount = s.contentLength
		s.replies.Put(proto.Disconnect{})
		return
	}
	if len(data) == 0 {
		// body shorter than declared; report end of input
		s.readCount = s.contentLength
		s.replies.Put(proto.Disconnect{})
		return
	}
	s.readCount += int64(len(data))
	metrics.BodyBytes.WithLabelValues(metrics.AdapterSync, "in").Add(float64(len(data)))
	s.replies.Put(proto.RequestChunk{Body: data, More: s.readCount < s.contentLength})
}

// fail surfaces a protocol violation: fatal for this request, distinct
// from an application fault.
func (s *syncStream) fail(err error) ([]byte, error) {
	s.violation = err
	s.stop = true
	return s.finalize()
}

// finalize runs once the response is judged complete: unblock the task,
// give leftover background work its wait budget, then cancel
// unconditionally and emit the closing chunks.
func (s *syncStream) finalize() ([]byte, error) {
	if !s.finalized {
		s.finalized = true
		s.replies.MarkNoWait()
		s.events.MarkNoWait()
		finished := s.task.Wait(s.b.waitBudget)
		s.task.Cancel()
		if s.fault == nil && finished {
			if err := s.task.Err(); err != nil {
				s.fault = proto.NewFault(err)
			}
		}

		if s.violation == nil {
			if s.fault != nil {
				metrics.Faults.WithLabelValues(metrics.AdapterSync, string(s.fault.Kind)).Inc()
				if err := s.reportFault(); err != nil {
					s.violation = err
				}
			}
			if s.violation == nil {
				// closing terminator chunk
				s.tail = append(s.tail, []byte{})
			}
		}
		metrics.Inflight.WithLabelValues(metrics.AdapterSync).Dec()
		metrics.ObserveOutcome(metrics.AdapterSync, s.firstErr(), s.violation != nil)
	}
	if s.violation != nil {
		s.terminated = true
		return nil, s.violation
	}
	if len(s.tail) > 0 {
		chunk := s.tail[0]
		s.tail = s.tail[1:]
		return chunk, nil
	}
	s.terminated = true
	return nil, io.EOF
}

// reportFault delivers the captured fault through the start-response
// call. With no response started yet it synthesizes the fixed 500
// answer; with one already streaming it can only attach the fault as
// out-of-band context.
func (s *syncStream) reportFault() error {
	logger.Error("bridged_application_fault", "kind", string(s.fault.Kind), "error", s.fault)
	if s.started {
		_, err := s.start(proto.StatusLine(500), nil, s.fault)
		return err
	}
	s.started = true
	headers := []proto.HeaderPair{{Name: "content-type", Value: "text/plain; charset=utf-8"}}
	if _, err := s.start(proto.StatusLine(500), headers, s.fault); err != nil {
		return err
	}
	s.tail = append(s.tail, []byte(diagnosticBody))
	return nil
}

func (s *syncStream) firstErr() error {
	if s.violation != nil {
		return s.violation
	}
	if s.fault != nil {
		return s.fault
	}
	return nil
}

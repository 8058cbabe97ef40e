package bridge

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MeteorsLiu/simpleMQ/queue"
	"github.com/MeteorsLiu/simpleMQ/worker"
	"github.com/valyala/bytebufferpool"

	"appbridge/pkg/body"
	"appbridge/pkg/logger"
	"appbridge/pkg/metrics"
	"appbridge/pkg/proto"
)

// Pool and queue defaults; both are backpressure points and deliberately
// small.
const (
	DefaultWorkers       = 10
	DefaultQueueCapacity = 16

	poolBacklog = 1024
)

// AsyncBridge invokes a synchronous application through the async
// message-passing contract. One instance owns one bounded worker pool
// and is safe for concurrent use across connections.
type AsyncBridge struct {
	app      proto.SyncHandler
	pool     *worker.Worker
	ownPool  bool
	queueCap int
}

// AsyncOption configures an AsyncBridge.
type AsyncOption func(*AsyncBridge)

// WithWorkers bounds how many requests run in the sync application
// concurrently; extra submissions queue behind them.
func WithWorkers(n int) AsyncOption {
	return func(b *AsyncBridge) {
		if n > 0 {
			b.pool = worker.NewWorker(poolBacklog, n, queue.NewSimpleQueue(queue.WithSimpleQueueCap(poolBacklog)), true)
			b.ownPool = true
		}
	}
}

// WithPool supplies an externally owned worker pool. The bridge will
// not stop it.
func WithPool(w *worker.Worker) AsyncOption {
	return func(b *AsyncBridge) {
		b.pool = w
		b.ownPool = false
	}
}

// WithQueueCapacity bounds the outbound queue between the worker and
// the sender; a full queue blocks the application's emissions.
func WithQueueCapacity(n int) AsyncOption {
	return func(b *AsyncBridge) {
		if n > 0 {
			b.queueCap = n
		}
	}
}

// NewAsyncBridge wraps app. Close the bridge to stop its pool.
func NewAsyncBridge(app proto.SyncHandler, opts ...AsyncOption) *AsyncBridge {
	b := &AsyncBridge{app: app, queueCap: DefaultQueueCapacity}
	for _, opt := range opts {
		opt(b)
	}
	if b.pool == nil {
		b.pool = worker.NewWorker(poolBacklog, DefaultWorkers, queue.NewSimpleQueue(queue.WithSimpleQueueCap(poolBacklog)), true)
		b.ownPool = true
	}
	return b
}

// Close stops the bridge's worker pool when it owns one.
func (b *AsyncBridge) Close() error {
	if b.ownPool {
		b.pool.Stop()
	}
	return nil
}

// Invoke satisfies proto.AsyncHandler, dispatching on the scope kind.
// Socket-upgrade scopes are answered with an orderly close; lifecycle
// scopes with the fixed startup/shutdown handshake.
func (b *AsyncBridge) Invoke(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
	switch scope.Kind {
	case proto.KindHTTP:
		r := &responder{bridge: b, out: make(chan outItem, b.queueCap), quit: make(chan struct{})}
		return r.respond(ctx, scope, receive, send)
	case proto.KindWebSocket:
		return send(ctx, proto.WebSocketClose{Code: 1000})
	case proto.KindLifespan:
		return b.lifespan(ctx, receive, send)
	default:
		return proto.Violationf("unsupported scope kind %q", scope.Kind)
	}
}

func (b *AsyncBridge) lifespan(ctx context.Context, receive proto.Receive, send proto.Send) error {
	msg, err := receive(ctx)
	if err != nil {
		return err
	}
	if _, ok := msg.(proto.LifespanStartup); !ok {
		return proto.Violationf("expected lifespan startup, got %T", msg)
	}
	if err := send(ctx, proto.LifespanStartupComplete{}); err != nil {
		return err
	}
	msg, err = receive(ctx)
	if err != nil {
		return err
	}
	if _, ok := msg.(proto.LifespanShutdown); !ok {
		return proto.Violationf("expected lifespan shutdown, got %T", msg)
	}
	return send(ctx, proto.LifespanShutdownComplete{})
}

// outItem is one queued outbound message. buf, when set, is returned to
// the pool after the sender is done with the message. A nil msg is the
// sender's stop sentinel.
type outItem struct {
	msg proto.ResponseMessage
	buf *bytebufferpool.ByteBuffer
}

// responder is the per-connection state of the reverse adapter.
type responder struct {
	bridge *AsyncBridge
	out    chan outItem
	quit   chan struct{}

	mu       sync.Mutex
	started  bool
	excFault *proto.Fault // fault context attached via start-response
	runFault *proto.Fault // in-flight failure of the application
}

func (r *responder) respond(ctx context.Context, scope *proto.Scope, receive proto.Receive, send proto.Send) error {
	metrics.Inflight.WithLabelValues(metrics.AdapterAsync).Inc()
	defer metrics.Inflight.WithLabelValues(metrics.AdapterAsync).Dec()

	bd := body.New(func() (proto.RequestMessage, error) { return receive(ctx) })
	env := proto.BuildEnviron(scope, bd)

	senderDone := make(chan error, 1)
	go r.sender(ctx, send, senderDone)

	workerDone := make(chan struct{})
	task := queue.NewTask(func() error {
		r.runApp(env)
		return nil
	}, queue.WithNoRetryFunc())
	task.OnDone(func(ok bool, t queue.Task) { close(workerDone) })
	r.bridge.pool.Publish(task)

	<-workerDone
	// worker finished; the sentinel follows whatever it queued last and
	// always lands because the sender is still draining
	r.out <- outItem{}
	sendErr := <-senderDone
	close(r.quit)

	fault := r.finalFault()
	if fault != nil {
		metrics.Faults.WithLabelValues(metrics.AdapterAsync, string(fault.Kind)).Inc()
	}
	metrics.ObserveOutcome(metrics.AdapterAsync, fault, false)

	// re-raise the captured fault only after the sender loop stopped
	if fault != nil {
		return fault
	}
	return sendErr
}

// sender is the single goroutine draining the outbound queue to send,
// preserving submission order. On a send failure it keeps draining so
// the worker never wedges on a full queue, and reports the first error.
func (r *responder) sender(ctx context.Context, send proto.Send, done chan<- error) {
	var sendErr error
	for item := range r.out {
		if item.msg == nil {
			break
		}
		if sendErr == nil {
			sendErr = send(ctx, item.msg)
		}
		if item.buf != nil {
			bytebufferpool.Put(item.buf)
		}
	}
	done <- sendErr
}

// runApp executes the synchronous application on a worker goroutine,
// relaying its response through the outbound queue. The body stream's
// close hook runs on every exit path.
func (r *responder) runApp(env *proto.Environ) {
	defer func() {
		if rec := recover(); rec != nil {
			r.setRunFault(proto.RecoverFault(rec))
		}
	}()

	stream, err := r.bridge.app(env, r.startResponse)
	if err != nil {
		r.setRunFault(proto.NewFault(err))
		return
	}
	if stream == nil {
		stream = proto.Chunks()
	}
	defer func() {
		if c, ok := stream.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.setRunFault(proto.NewFault(err))
			return
		}
		if err := r.emitChunk(chunk, true); err != nil {
			return
		}
	}
	// closing zero-length chunk, skipped when the run itself faulted
	r.mu.Lock()
	faulted := r.runFault != nil
	r.mu.Unlock()
	if !faulted {
		_ = r.emitChunk(nil, false)
	}
}

// startResponse is handed to the synchronous application. The first
// call opens the response; later calls are tolerated only to update the
// pending fault context.
func (r *responder) startResponse(status string, headers []proto.HeaderPair, fault *proto.Fault) (proto.WriteFunc, error) {
	r.mu.Lock()
	if fault != nil {
		r.excFault = fault
	}
	if r.started {
		r.mu.Unlock()
		if fault == nil {
			return nil, proto.Violationf("start-response called twice without fault context")
		}
		return r.write, nil
	}
	r.started = true
	r.mu.Unlock()

	code, err := proto.ParseStatusLine(status)
	if err != nil {
		return nil, err
	}
	normalized := make([]proto.HeaderPair, len(headers))
	for i, h := range headers {
		normalized[i] = proto.HeaderPair{
			Name:  strings.ToLower(strings.TrimSpace(h.Name)),
			Value: strings.TrimSpace(h.Value),
		}
	}
	if err := r.enqueue(context.Background(), outItem{msg: proto.ResponseStart{Status: code, Headers: normalized}}); err != nil {
		return nil, err
	}
	return r.write, nil
}

func (r *responder) write(chunk []byte) error {
	return r.emitChunk(chunk, true)
}

// emitChunk copies the chunk through the buffer pool and queues it; the
// copy decouples the application's buffer reuse from the async side.
func (r *responder) emitChunk(chunk []byte, more bool) error {
	var bb *bytebufferpool.ByteBuffer
	var payload []byte
	if len(chunk) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], chunk...)
		payload = bb.B
		metrics.BodyBytes.WithLabelValues(metrics.AdapterAsync, "out").Add(float64(len(chunk)))
	}
	return r.enqueue(context.Background(), outItem{msg: proto.ResponseChunk{Body: payload, More: more}, buf: bb})
}

// enqueue blocks on a full queue: backpressure from a slow consumer to
// a fast application. After the connection has been torn down queued
// emissions are dropped instead of wedging stray goroutines.
func (r *responder) enqueue(ctx context.Context, item outItem) error {
	start := time.Now()
	select {
	case r.out <- item:
		metrics.QueueWait.Observe(time.Since(start).Seconds())
		return nil
	case <-r.quit:
		if item.buf != nil {
			bytebufferpool.Put(item.buf)
		}
		logger.Warn("response_emission_after_teardown")
		return proto.Violationf("response emission after connection teardown")
	case <-ctx.Done():
		if item.buf != nil {
			bytebufferpool.Put(item.buf)
		}
		return ctx.Err()
	}
}

func (r *responder) setRunFault(f *proto.Fault) {
	r.mu.Lock()
	if r.runFault == nil {
		r.runFault = f
	}
	r.mu.Unlock()
}

// finalFault picks what to re-raise: an in-flight failure wins over
// fault context attached through start-response.
func (r *responder) finalFault() *proto.Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runFault != nil {
		return r.runFault
	}
	return r.excFault
}

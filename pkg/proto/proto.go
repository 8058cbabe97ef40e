// Package proto defines the two application-invocation contracts the
// bridge translates between: a synchronous pull-based contract (the
// application is called once per request and streams its response body
// back directly) and an asynchronous message-passing contract (the
// application exchanges discrete typed messages over receive/send
// channels). It also carries the shared data model: Scope, Environ,
// header mapping, status lines and cross-goroutine faults.
package proto

import (
	"context"
	"io"
)

// Kind tags the connection type carried by a Scope.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindWebSocket Kind = "websocket"
	KindLifespan  Kind = "lifespan"
)

// HeaderPair is one name/value header entry. Order and duplicates are
// preserved wherever []HeaderPair appears; names are lower-cased on the
// async side of the bridge.
type HeaderPair struct {
	Name  string
	Value string
}

// Addr is a host/port endpoint attached to a Scope.
type Addr struct {
	Host string
	Port int
}

// Scope is the immutable per-request metadata record of the async
// contract. It is built once at adapter entry and never mutated.
type Scope struct {
	Kind     Kind
	Proto    string // HTTP version, e.g. "1.1"
	Method   string
	Scheme   string
	Path     string
	RawPath  []byte // undecoded request path, when the transport kept it
	RootPath string
	Query    []byte
	Headers  []HeaderPair
	Client   *Addr
	Server   *Addr

	// Extra carries transport-specific values that have no slot above.
	Extra map[string]any
}

// InputStream is the pull-style request body handle carried by an
// Environ. Read sizes follow the -1 = unbounded convention.
type InputStream interface {
	// Read returns up to n bytes, or everything remaining when n == -1.
	// A zero-length result with nil error means end of input, except for
	// Read(0) which always returns empty without consuming anything.
	Read(n int) ([]byte, error)
	// ReadLine returns the next \n-terminated line, scanning at most
	// limit bytes (-1 = unbounded). The terminator is included. When the
	// limit is hit first, exactly limit bytes are returned.
	ReadLine(limit int) ([]byte, error)
	// ReadLines returns hint ReadLine results, or everything split on
	// line terminators when hint == -1.
	ReadLines(hint int) ([][]byte, error)
}

// Environ is the mutable per-request mapping of the sync contract. Vars
// holds CGI-style metadata keys; Input is the request body handle. The
// originating Scope rides along as an escape hatch when the Environ was
// built from one.
type Environ struct {
	Vars  map[string]string
	Input InputStream
	Scope *Scope
}

// WriteFunc emits one more response body chunk. Returned by
// StartResponse, mirroring the sync contract's write callable.
type WriteFunc func(chunk []byte) error

// StartResponse starts the response on the sync contract. status is a
// "<code> <reason>" line, headers are emitted in order. fault carries
// captured failure context from the application; per the bridge's
// policy the first call is authoritative and later calls may only
// update the pending fault.
type StartResponse func(status string, headers []HeaderPair, fault *Fault) (WriteFunc, error)

// BodyStream is the lazily-produced response body of the sync contract.
// Next returns io.EOF after the final chunk. Streams that also
// implement io.Closer are closed by the bridge on every exit path.
type BodyStream interface {
	Next() ([]byte, error)
}

// SyncHandler is the synchronous application contract: called once per
// request, must call start before (or while) producing body chunks.
// A returned error is an application fault.
type SyncHandler func(env *Environ, start StartResponse) (BodyStream, error)

// Receive pulls the next inbound message. It blocks the calling
// goroutine until a message is available.
type Receive func(ctx context.Context) (RequestMessage, error)

// Send delivers one outbound message. It blocks until the peer has
// accepted the message, providing backpressure.
type Send func(ctx context.Context, msg ResponseMessage) error

// AsyncHandler is the asynchronous application contract: invoked once
// per connection, communicates exclusively through receive and send.
type AsyncHandler func(ctx context.Context, scope *Scope, receive Receive, send Send) error

// chunkStream yields a fixed chunk list and runs an optional hook on
// Close.
type chunkStream struct {
	chunks  [][]byte
	pos     int
	onClose func()
}

func (s *chunkStream) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *chunkStream) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// Chunks builds a BodyStream over a fixed list of body chunks.
func Chunks(chunks ...[]byte) BodyStream {
	return &chunkStream{chunks: chunks}
}

// ChunksFunc is Chunks with a close hook invoked when the bridge
// releases the stream.
func ChunksFunc(onClose func(), chunks ...[]byte) BodyStream {
	return &chunkStream{chunks: chunks, onClose: onClose}
}

// StreamFunc adapts a plain pull function into a BodyStream.
type StreamFunc func() ([]byte, error)

func (f StreamFunc) Next() ([]byte, error) { return f() }

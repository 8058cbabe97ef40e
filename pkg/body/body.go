// Package body presents pull-style reads over a request body whose
// bytes actually arrive as a sequence of push-style chunk messages.
// It performs no synchronization of its own: all blocking funnels into
// the single pull function supplied by the owning adapter, so reads are
// serialized with the rest of that request's exchange traffic.
package body

import (
	"bytes"
	"io"

	"appbridge/pkg/proto"
)

// Pull obtains the next inbound message for this request. It blocks the
// calling goroutine until one is available.
type Pull func() (proto.RequestMessage, error)

// Body buffers unconsumed bytes and refills from its pull source on
// demand. It implements proto.InputStream.
type Body struct {
	buf  bytes.Buffer
	pull Pull
	more bool
}

// New wraps a pull source. Until the first chunk arrives the body is
// assumed to have more data.
func New(pull Pull) *Body {
	return &Body{pull: pull, more: true}
}

// FromReader adapts a plain io.Reader into the same pull interface,
// delivering it as a single-chunk-at-a-time message source.
func FromReader(r io.Reader) *Body {
	chunk := make([]byte, 8192)
	return New(func() (proto.RequestMessage, error) {
		n, err := r.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			return proto.RequestChunk{Body: out, More: err == nil}, nil
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		return proto.Disconnect{}, nil
	})
}

// HasMore reports whether another read could yield data: either bytes
// are buffered or the last chunk announced more to follow.
func (b *Body) HasMore() bool {
	return b.more || b.buf.Len() > 0
}

// fill receives one more message and appends its payload.
func (b *Body) fill() error {
	if !b.more {
		return nil
	}
	msg, err := b.pull()
	if err != nil {
		b.more = false
		return err
	}
	switch m := msg.(type) {
	case proto.RequestChunk:
		b.more = m.More
		b.buf.Write(m.Body)
	case proto.Disconnect:
		b.more = false
	default:
		b.more = false
		return proto.Violationf("unexpected request message %T", msg)
	}
	return nil
}

// Read returns up to n bytes, pulling chunks until the buffer holds
// enough or the source is exhausted. n == -1 reads everything
// remaining. Read(0) returns empty without blocking or consuming.
func (b *Body) Read(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	for b.more && (n == -1 || n > b.buf.Len()) {
		if err := b.fill(); err != nil {
			return nil, err
		}
	}
	if n == -1 || n > b.buf.Len() {
		n = b.buf.Len()
	}
	out := make([]byte, n)
	_, _ = b.buf.Read(out)
	return out, nil
}

// ReadLine returns the next line including its \n terminator, scanning
// at most limit bytes (-1 = unbounded). When limit is hit before a
// terminator, exactly limit bytes are returned; at end of input the
// partial remainder is returned.
func (b *Body) ReadLine(limit int) ([]byte, error) {
	for {
		window := b.buf.Bytes()
		if limit > -1 && limit < len(window) {
			window = window[:limit]
		}
		if i := bytes.IndexByte(window, '\n'); i != -1 {
			return b.consume(i + 1), nil
		}
		if limit > -1 && limit <= b.buf.Len() {
			return b.consume(limit), nil
		}
		if !b.more {
			return b.consume(b.buf.Len()), nil
		}
		if err := b.fill(); err != nil {
			return nil, err
		}
	}
}

// ReadLines returns hint ReadLine results, or, for an unbounded hint,
// everything remaining split on terminators with the terminator kept on
// every line except possibly the last.
func (b *Body) ReadLines(hint int) ([][]byte, error) {
	if hint == -1 {
		if !b.HasMore() {
			return nil, nil
		}
		raw, err := b.Read(-1)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, nil
		}
		lines := bytes.SplitAfter(raw, []byte("\n"))
		if len(lines[len(lines)-1]) == 0 {
			lines = lines[:len(lines)-1]
		}
		return lines, nil
	}
	lines := make([][]byte, 0, hint)
	for i := 0; i < hint; i++ {
		line, err := b.ReadLine(-1)
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Next yields successive lines for sequential iteration: a lazy, finite,
// non-restartable sequence. After exhaustion it reports ok=false.
func (b *Body) Next() ([]byte, bool, error) {
	if !b.HasMore() {
		return nil, false, nil
	}
	line, err := b.ReadLine(-1)
	if err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// Reader adapts the body to io.Reader for interop with code expecting
// standard streams.
func (b *Body) Reader() io.Reader { return readerAdapter{b} }

type readerAdapter struct{ b *Body }

func (r readerAdapter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.b.Read(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

// consume removes and returns the first n buffered bytes.
func (b *Body) consume(n int) []byte {
	out := make([]byte, n)
	_, _ = b.buf.Read(out)
	return out
}

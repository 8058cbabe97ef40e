package body

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"appbridge/pkg/proto"
)

// chunked builds a Body fed by the given chunks, with a final
// Disconnect after them.
func chunked(chunks ...[]byte) *Body {
	i := 0
	return New(func() (proto.RequestMessage, error) {
		if i < len(chunks) {
			c := chunks[i]
			i++
			return proto.RequestChunk{Body: c, More: i < len(chunks)}, nil
		}
		return proto.Disconnect{}, nil
	})
}

func TestReadAll(t *testing.T) {
	b := chunked([]byte("hello, "), []byte("world"))
	got, err := b.Read(-1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("unexpected body: %q", got)
	}
	got, err = b.Read(-1)
	if err != nil {
		t.Fatalf("Read after exhaustion: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty read at end, got %q", got)
	}
}

func TestReadSized(t *testing.T) {
	b := chunked([]byte("abcdef"))
	got, err := b.Read(2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
	got, err = b.Read(10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "cdef" {
		t.Fatalf("expected cdef remainder, got %q", got)
	}
}

func TestReadZeroNeverBlocks(t *testing.T) {
	// a pull source that would block forever if called
	b := New(func() (proto.RequestMessage, error) {
		t.Fatal("Read(0) consumed from the source")
		return nil, nil
	})
	got, err := b.Read(0)
	if err != nil {
		t.Fatalf("Read(0): %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}
}

func TestReadSpansChunkBoundaries(t *testing.T) {
	b := chunked([]byte("ab"), []byte("cd"), []byte("ef"))
	got, err := b.Read(5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("expected abcde, got %q", got)
	}
}

func TestReadLine(t *testing.T) {
	b := chunked([]byte("one\ntwo\nthree"))
	for i, want := range []string{"one\n", "two\n", "three"} {
		line, err := b.ReadLine(-1)
		if err != nil {
			t.Fatalf("ReadLine %d: %v", i, err)
		}
		if string(line) != want {
			t.Fatalf("line %d: expected %q, got %q", i, want, line)
		}
	}
}

func TestReadLineLimit(t *testing.T) {
	b := chunked([]byte("abcdefghij\nrest"))
	line, err := b.ReadLine(4)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "abcd" {
		t.Fatalf("expected exactly 4 bytes, got %q", line)
	}
	// a terminator inside the limit still wins
	line, err = b.ReadLine(100)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "efghij\n" {
		t.Fatalf("expected efghij\\n, got %q", line)
	}
}

func TestReadLineSpansChunks(t *testing.T) {
	b := chunked([]byte("he"), []byte("llo\nwo"), []byte("rld\n"))
	line, err := b.ReadLine(-1)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "hello\n" {
		t.Fatalf("expected hello\\n, got %q", line)
	}
	line, err = b.ReadLine(-1)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(line) != "world\n" {
		t.Fatalf("expected world\\n, got %q", line)
	}
}

func TestReadLinesUnbounded(t *testing.T) {
	b := chunked([]byte("a\nb\nc\n"))
	lines, err := b.ReadLines(-1)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	want := []string{"a\n", "b\n", "c\n"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if string(lines[i]) != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestReadLinesNoTrailingTerminator(t *testing.T) {
	b := chunked([]byte("a\nb"))
	lines, err := b.ReadLines(-1)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 || string(lines[0]) != "a\n" || string(lines[1]) != "b" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestNextIteration(t *testing.T) {
	b := chunked([]byte("x\ny\n"))
	var got []string
	for {
		line, ok, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(line))
	}
	if strings.Join(got, "") != "x\ny\n" {
		t.Fatalf("unexpected iteration result: %q", got)
	}
	// non-restartable: stays exhausted
	if _, ok, _ := b.Next(); ok {
		t.Fatal("iterator restarted after exhaustion")
	}
}

func TestFromReader(t *testing.T) {
	b := FromReader(bytes.NewReader(bytes.Repeat([]byte("z"), 20000)))
	got, err := b.Read(-1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 20000 {
		t.Fatalf("expected 20000 bytes, got %d", len(got))
	}
}

func TestReaderInterop(t *testing.T) {
	b := chunked([]byte("stream"), []byte(" me"))
	data, err := io.ReadAll(b.Reader())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "stream me" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestEarlyDisconnect(t *testing.T) {
	i := 0
	b := New(func() (proto.RequestMessage, error) {
		i++
		if i == 1 {
			return proto.RequestChunk{Body: []byte("partial"), More: true}, nil
		}
		return proto.Disconnect{}, nil
	})
	got, err := b.Read(-1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "partial" {
		t.Fatalf("expected partial, got %q", got)
	}
	if b.HasMore() {
		t.Fatal("expected exhaustion after disconnect")
	}
}

func TestUnexpectedMessageIsViolation(t *testing.T) {
	b := New(func() (proto.RequestMessage, error) {
		return proto.LifespanStartup{}, nil
	})
	if _, err := b.Read(-1); err == nil {
		t.Fatal("expected protocol violation")
	}
}

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Framing selects how message boundaries are found on a byte stream.
type Framing string

const (
	// FramingChunk treats every read from the stream as one complete
	// message. This matches coordinators that write one small JSON
	// document per packet, but breaks if the network splits or coalesces
	// writes.
	FramingChunk Framing = "chunk"

	// FramingLine delimits messages with '\n'.
	FramingLine Framing = "line"
)

// ChunkBufferSize is the read buffer used by chunk framing. It is larger
// than MaxMessageSize so oversized deliveries are observed, not truncated.
const ChunkBufferSize = 64 * 1024

// ErrUnknownFraming is returned for framings other than chunk and line.
var ErrUnknownFraming = errors.New("protocol: unknown framing")

// Reader yields one delivery unit per call.
type Reader interface {
	ReadMessage() ([]byte, error)
}

// NewReader wraps r with the given framing.
func NewReader(f Framing, r io.Reader) (Reader, error) {
	switch f {
	case FramingChunk, "":
		return &chunkReader{r: r, buf: make([]byte, ChunkBufferSize)}, nil
	case FramingLine:
		// Room for a full message plus "\r\n".
		return &lineReader{r: bufio.NewReaderSize(r, MaxMessageSize+2)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFraming, f)
	}
}

// Frame returns payload as it should be written for framing f.
func Frame(f Framing, payload []byte) []byte {
	if f != FramingLine {
		return payload
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	return append(out, '\n')
}

type chunkReader struct {
	r   io.Reader
	buf []byte
}

func (c *chunkReader) ReadMessage() ([]byte, error) {
	for {
		n, err := c.r.Read(c.buf)
		if n > 0 {
			// Data read alongside an error is delivered first; the error
			// resurfaces on the next call.
			out := make([]byte, n)
			copy(out, c.buf[:n])
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

type lineReader struct {
	r *bufio.Reader
}

func (l *lineReader) ReadMessage() ([]byte, error) {
	for {
		line, err := l.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, ErrMessageTooBig
		}
		if err != nil && len(line) == 0 {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > MaxMessageSize {
			return nil, ErrMessageTooBig
		}
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

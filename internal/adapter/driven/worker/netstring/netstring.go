// Package netstring implements the length-prefixed framing used on the
// worker pipes: <decimal-length>:<payload>,
package netstring

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// MaxPayloadSize is the largest payload the worker accepts or emits.
const MaxPayloadSize = 4194304

// maxLengthDigits is len("4194304").
const maxLengthDigits = 7

var (
	ErrFrameTooLarge     = errors.New("netstring: frame exceeds maximum payload size")
	ErrMalformedLength   = errors.New("netstring: malformed length prefix")
	ErrMissingTerminator = errors.New("netstring: missing trailing comma")
)

// EncodedLen returns the number of bytes a payload of n bytes occupies on the wire.
func EncodedLen(n int) int {
	return len(strconv.Itoa(n)) + 1 + n + 1
}

// Append appends the framed payload to dst.
func Append(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, ErrFrameTooLarge
	}
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ':')
	dst = append(dst, payload...)
	return append(dst, ','), nil
}

type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame reads exactly one frame and returns its payload. Any error is
// fatal for the stream: the reader is left at an unknown position.
func (r *Reader) ReadFrame() ([]byte, error) {
	length, err := r.readLength()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length+1)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if buf[length] != ',' {
		return nil, ErrMissingTerminator
	}
	return buf[:length], nil
}

func (r *Reader) readLength() (int, error) {
	length := 0
	digits := 0
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if digits > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: unexpected byte %q", ErrMalformedLength, b)
		}
		digits++
		if digits > maxLengthDigits {
			return 0, fmt.Errorf("%w: more than %d digits", ErrMalformedLength, maxLengthDigits)
		}
		length = length*10 + int(b-'0')
	}
	if digits == 0 {
		return 0, fmt.Errorf("%w: empty length", ErrMalformedLength)
	}
	if length > MaxPayloadSize {
		return 0, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}
	return length, nil
}

// Writer frames payloads onto w. It is safe for concurrent use; frames
// from different goroutines never interleave.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := Append(w.buf[:0], payload)
	if err != nil {
		return err
	}
	w.buf = shrink(buf)
	_, err = w.w.Write(buf)
	return err
}

// WriteFramePair writes msg and payload as two consecutive frames that no
// other frame can be interleaved with.
func (w *Writer) WriteFramePair(msg, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := Append(w.buf[:0], msg)
	if err != nil {
		return err
	}
	buf, err = Append(buf, payload)
	if err != nil {
		return err
	}
	w.buf = shrink(buf)
	_, err = w.w.Write(buf)
	return err
}

// shrink keeps the scratch buffer for the next frame unless a large frame
// grew it past what is worth holding on to.
func shrink(buf []byte) []byte {
	if cap(buf) > 256*1024 {
		return nil
	}
	return buf
}

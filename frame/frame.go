// Package frame implements the Content-Length framing used by LSP and other
// stdio JSON-RPC transports.
//
// A frame is a header block terminated by an empty line, followed by exactly
// Content-Length bytes of JSON:
//
//	Content-Length: 52\r\n
//	\r\n
//	{"jsonrpc":"2.0","method":"initialized","params":{}}
//
// Bodies are carried as raw bytes and never re-encoded, so a frame read and
// written again is byte-identical to what was read.
package frame

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/teranos/roslyn-wrapper/errors"
)

// HeaderContentLength is the only header the codec writes
const HeaderContentLength = "Content-Length"

// DefaultMaxBodySize bounds the declared body length accepted by a Reader
const DefaultMaxBodySize = 64 << 20

// Frame is one length-prefixed JSON message
type Frame struct {
	// Header holds headers other than Content-Length, keyed by lower-cased
	// name. They are informational and not written back out.
	Header map[string]string
	// Body is the raw JSON payload
	Body json.RawMessage
}

// New marshals v into a frame body.
func New(v any) (Frame, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Frame{}, errors.Wrap(err, "failed to marshal frame body")
	}
	return Frame{Body: body}, nil
}

// Reader decodes frames from a byte stream
type Reader struct {
	r           *bufio.Reader
	MaxBodySize int
}

// NewReader wraps r. If r is already a *bufio.Reader it is used directly.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &Reader{r: br, MaxBodySize: DefaultMaxBodySize}
}

// Read returns the next frame. At a clean end of stream (no bytes of a new
// frame read) it returns io.EOF; every other failure is a framing error.
func (fr *Reader) Read() (Frame, error) {
	length := -1
	var header map[string]string

	for first := true; ; first = false {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && first && line == "" {
				return Frame{}, io.EOF
			}
			if err == io.EOF {
				return Frame{}, errors.Mark(errors.Newf("stream ended inside header block after %q", line), ErrMalformedHeader)
			}
			return Frame{}, errors.Wrap(err, "failed to read frame header")
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, errors.Mark(errors.Newf("header line without colon: %q", line), ErrMalformedHeader)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if strings.EqualFold(name, HeaderContentLength) {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Frame{}, errors.Mark(errors.Newf("invalid Content-Length %q", value), ErrMalformedHeader)
			}
			length = n
			continue
		}
		if header == nil {
			header = make(map[string]string)
		}
		header[strings.ToLower(name)] = value
	}

	if length < 0 {
		return Frame{}, errors.Mark(errors.New("missing Content-Length header"), ErrMalformedHeader)
	}
	if fr.MaxBodySize > 0 && length > fr.MaxBodySize {
		return Frame{}, errors.Mark(errors.Newf("Content-Length %d exceeds limit %d", length, fr.MaxBodySize), ErrMalformedHeader)
	}

	body := make([]byte, length)
	if n, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, errors.Mark(errors.Newf("stream ended after %d of %d body bytes", n, length), ErrTruncated)
		}
		return Frame{}, errors.Wrap(err, "failed to read frame body")
	}

	if !json.Valid(body) {
		return Frame{}, errors.Mark(errors.Newf("body of %d bytes is not valid JSON", length), ErrInvalidBody)
	}

	return Frame{Header: header, Body: body}, nil
}

// ReadFrame reads a single frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	return NewReader(r).Read()
}

// Writer encodes frames onto a byte stream. It is safe for concurrent use:
// each frame is written with a single Write call under a mutex, so frames
// from different goroutines never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes f with a Content-Length header matching its body.
func (fw *Writer) Write(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return WriteFrame(fw.w, f)
}

// WriteValue marshals v and writes it as one frame.
func (fw *Writer) WriteValue(v any) error {
	f, err := New(v)
	if err != nil {
		return err
	}
	return fw.Write(f)
}

// WriteFrame writes f to w as header, blank line and body in one Write.
func WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, 0, len(f.Body)+32)
	buf = fmt.Appendf(buf, "%s: %d\r\n\r\n", HeaderContentLength, len(f.Body))
	buf = append(buf, f.Body...)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

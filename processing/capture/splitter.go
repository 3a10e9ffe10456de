package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMissingContentType = errors.New("missing Content-Type header")
	ErrNoBoundary         = errors.New("boundary not found in Content-Type header")
	ErrEmptyBoundary      = errors.New("empty boundary in Content-Type header")
	ErrPartTooLarge       = errors.New("multipart part exceeds size limit")
)

const readChunkSize = 32 << 10

var (
	crlf          = []byte("\r\n")
	headerBodySep = []byte("\r\n\r\n")
	dashes        = []byte("--")
)

// ParseBoundary pulls the boundary parameter out of a
// multipart/x-mixed-replace Content-Type value.
func ParseBoundary(contentType string) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", ErrMissingContentType
	}

	for _, param := range strings.Split(contentType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "boundary") {
			continue
		}

		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value == "" {
			return "", ErrEmptyBoundary
		}
		return value, nil
	}

	return "", ErrNoBoundary
}

// Part is a single body of the multipart stream together with its headers.
type Part struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// Splitter cuts a multipart/x-mixed-replace body into parts. A part is
// emitted as soon as its Content-Length is satisfied, otherwise when the
// next delimiter shows up. It is not safe for concurrent use.
type Splitter struct {
	r       io.Reader
	needle  []byte
	lenient bool
	maxPart int

	buf     []byte
	chunk   []byte
	scanned int
	seeking bool
	done    bool
	readErr error
}

// NewSplitter reads parts delimited by "--"+boundary from r. Servers that
// advertise a boundary already starting with "--" usually write it verbatim,
// so in that case the boundary itself is matched.
func NewSplitter(r io.Reader, boundary string, maxPart int) *Splitter {
	s := &Splitter{
		r:       r,
		maxPart: maxPart,
		chunk:   make([]byte, readChunkSize),
		seeking: true,
	}

	if strings.HasPrefix(boundary, "--") {
		s.needle = []byte(boundary)
		s.lenient = true
	} else {
		s.needle = []byte("--" + boundary)
	}

	return s
}

// Next blocks until a complete non-empty part is available. It returns
// io.EOF once the stream is closed or the closing delimiter was seen.
func (s *Splitter) Next() (Part, error) {
	for {
		if s.done {
			return Part{}, io.EOF
		}

		if s.seeking {
			// Preamble, or trailing bytes of a part already emitted.
			if idx := s.find(); idx >= 0 {
				s.consume(idx + len(s.needle))
				s.seeking = false
				continue
			}
		} else {
			if bytes.HasPrefix(s.buf, dashes) {
				s.done = true
				return Part{}, io.EOF
			}

			if idx := s.find(); idx >= 0 {
				part, ok := s.parsePart(s.buf[:idx])
				s.consume(idx + len(s.needle))
				if ok {
					return part, nil
				}
				continue
			}

			if part, n, ok := s.parseSized(); ok {
				s.consume(n)
				s.seeking = true
				return part, nil
			}
		}

		if s.readErr != nil {
			s.done = true
			if errors.Is(s.readErr, io.EOF) {
				return Part{}, io.EOF
			}
			return Part{}, fmt.Errorf("read stream: %w", s.readErr)
		}

		if s.maxPart > 0 && len(s.buf) > s.maxPart {
			s.done = true
			return Part{}, fmt.Errorf("%w: %d bytes buffered", ErrPartTooLarge, len(s.buf))
		}

		n, err := s.r.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			s.readErr = err
		}
	}
}

// find searches only the bytes not yet scanned, keeping an overlap of
// len(needle)-1 so a delimiter split across reads is still found.
func (s *Splitter) find() int {
	idx := bytes.Index(s.buf[s.scanned:], s.needle)
	if idx >= 0 {
		return s.scanned + idx
	}

	s.scanned = max(0, len(s.buf)-len(s.needle)+1)
	return -1
}

func (s *Splitter) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
	s.scanned = 0
}

func (s *Splitter) parsePart(raw []byte) (Part, bool) {
	sep := bytes.Index(raw, headerBodySep)
	if sep < 0 {
		return Part{}, false
	}

	header := parseHeader(raw[:sep])
	body := raw[sep+len(headerBodySep):]

	if s.lenient {
		body = bytes.TrimSuffix(body, dashes)
	}
	body = bytes.TrimSuffix(body, crlf)

	if n, err := strconv.Atoi(header.Get("Content-Length")); err == nil && n > 0 && n <= len(body) {
		body = body[:n]
	}

	if len(body) == 0 {
		return Part{}, false
	}

	return Part{Header: header, Body: bytes.Clone(body)}, true
}

// parseSized emits the part at the head of the buffer when it carries a
// Content-Length and the whole body has arrived.
func (s *Splitter) parseSized() (Part, int, bool) {
	sep := bytes.Index(s.buf, headerBodySep)
	if sep < 0 {
		return Part{}, 0, false
	}

	header := parseHeader(s.buf[:sep])
	n, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil || n <= 0 {
		return Part{}, 0, false
	}

	start := sep + len(headerBodySep)
	if len(s.buf) < start+n {
		return Part{}, 0, false
	}

	return Part{Header: header, Body: bytes.Clone(s.buf[start : start+n])}, start + n, true
}

func parseHeader(block []byte) textproto.MIMEHeader {
	header := make(textproto.MIMEHeader)

	for _, line := range strings.Split(string(block), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(key), strings.TrimSpace(value))
	}

	return header
}

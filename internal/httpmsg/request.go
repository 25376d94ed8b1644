package httpmsg

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var headTerminator = []byte("\r\n\r\n")

// Request is a parsed request head plus the framing of its body within
// the buffer it was parsed from.
type Request struct {
	Method string
	Target string
	Proto  string
	Headers

	// BodyStart is the offset of the first body byte.
	BodyStart int
	// End is the offset just past the message, set once Complete succeeds.
	End int

	lineEnd       int
	contentLength int64
	chunked       bool
}

// ParseHead parses the request head in buf. It returns nil, nil while the
// head terminator has not been buffered yet.
func ParseHead(buf []byte) (*Request, error) {
	term := bytes.Index(buf, headTerminator)
	if term < 0 {
		if len(buf) > MaxHeaderBytes {
			return nil, ErrTooLarge
		}
		return nil, nil
	}
	if term+len(headTerminator) > MaxHeaderBytes {
		return nil, ErrTooLarge
	}

	lineEnd := bytes.Index(buf, crlf)
	parts := strings.Split(string(buf[:lineEnd]), " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: bad request line", ErrMalformed)
	}
	if !validToken([]byte(parts[0])) {
		return nil, fmt.Errorf("%w: bad method %q", ErrMalformed, parts[0])
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrMalformed, parts[2])
	}

	req := &Request{
		Method:    parts[0],
		Target:    parts[1],
		Proto:     parts[2],
		BodyStart: term + len(headTerminator),
		lineEnd:   lineEnd,
	}
	if lineEnd < term {
		headers, err := parseHeaderBlock(buf[lineEnd+2 : term])
		if err != nil {
			return nil, err
		}
		req.Headers = headers
	}

	chunked, present := hasChunked(&req.Headers)
	switch {
	case chunked:
		req.chunked = true
	case present:
		return nil, fmt.Errorf("%w: unsupported transfer encoding", ErrMalformed)
	default:
		n, err := contentLength(&req.Headers)
		if err != nil {
			return nil, err
		}
		// End must stay representable as a buffer offset.
		if n > int64(math.MaxInt-req.BodyStart) {
			return nil, fmt.Errorf("%w: content-length %d out of range", ErrMalformed, n)
		}
		req.contentLength = n
	}
	return req, nil
}

// Complete reports whether buf holds the whole message, setting End when
// it does. buf must be the buffer the head was parsed from, possibly
// extended with more bytes.
func (r *Request) Complete(buf []byte) (bool, error) {
	if r.chunked {
		n, ok, err := scanChunked(buf[r.BodyStart:])
		if err != nil || !ok {
			return false, err
		}
		r.End = r.BodyStart + n
		return true, nil
	}
	end := int64(r.BodyStart) + r.contentLength
	if int64(len(buf)) < end {
		return false, nil
	}
	r.End = int(end)
	return true, nil
}

// ParseRequest parses a complete request from buf. It returns nil, nil
// until the head and the declared body have both been buffered.
func ParseRequest(buf []byte) (*Request, error) {
	req, err := ParseHead(buf)
	if err != nil || req == nil {
		return nil, err
	}
	ok, err := req.Complete(buf)
	if err != nil || !ok {
		return nil, err
	}
	return req, nil
}

// Chunked reports whether the body uses chunked transfer coding.
func (r *Request) Chunked() bool { return r.chunked }

// Rebuild returns a copy of the request in buf with every header named
// name (case-insensitive) removed and a single "name: value" header
// appended after the remaining headers. The request line, the other
// header lines and the body are copied byte for byte.
func Rebuild(r *Request, buf []byte, name, value string) []byte {
	out := make([]byte, 0, r.End+len(name)+len(value)+4)
	out = append(out, buf[:r.lineEnd+2]...)
	for _, h := range r.List {
		if strings.EqualFold(h.Name, name) {
			continue
		}
		out = append(out, h.Raw...)
		out = append(out, crlf...)
	}
	out = append(out, name...)
	out = append(out, ": "...)
	out = append(out, value...)
	out = append(out, crlf...)
	out = append(out, crlf...)
	out = append(out, buf[r.BodyStart:r.End]...)
	return out
}

func contentLength(h *Headers) (int64, error) {
	values := h.Values("Content-Length")
	if len(values) == 0 {
		return 0, nil
	}
	var n int64 = -1
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || m < 0 {
				return 0, fmt.Errorf("%w: bad content-length %q", ErrMalformed, v)
			}
			if n >= 0 && m != n {
				return 0, fmt.Errorf("%w: conflicting content-length", ErrMalformed)
			}
			n = m
		}
	}
	return n, nil
}

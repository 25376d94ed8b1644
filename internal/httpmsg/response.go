package httpmsg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response is a parsed response head. Head holds its exact bytes,
// including the terminating empty line.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Headers
	Head []byte
}

// ReadResponseHead reads one response head from r. Nothing past the
// head's terminating empty line is consumed.
func ReadResponseHead(r *bufio.Reader) (*Response, error) {
	var head []byte
	lineStart := 0
	for {
		chunk, err := r.ReadSlice('\n')
		head = append(head, chunk...)
		if len(head) > MaxHeaderBytes {
			return nil, ErrTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(head) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line := head[lineStart:]
		if bytes.Equal(line, crlf) || bytes.Equal(line, []byte("\n")) {
			if lineStart == 0 {
				return nil, fmt.Errorf("%w: empty status line", ErrMalformed)
			}
			break
		}
		lineStart = len(head)
	}
	return parseResponseHead(head)
}

func parseResponseHead(head []byte) (*Response, error) {
	lines := bytes.TrimRight(head, "\r\n")
	statusLine := lines
	var block []byte
	if i := bytes.IndexByte(lines, '\n'); i >= 0 {
		statusLine, block = lines[:i], lines[i+1:]
	}
	statusLine = bytes.TrimSuffix(statusLine, []byte("\r"))

	parts := strings.SplitN(string(statusLine), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("%w: bad status line", ErrMalformed)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 3 || code < 100 {
		return nil, fmt.Errorf("%w: bad status code %q", ErrMalformed, parts[1])
	}
	resp := &Response{
		Proto:      parts[0],
		StatusCode: code,
		Head:       head,
	}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}
	if len(block) > 0 {
		block = bytes.ReplaceAll(block, []byte("\r\n"), []byte("\n"))
		block = bytes.ReplaceAll(block, []byte("\n"), crlf)
		resp.Headers, err = parseHeaderBlock(block)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Interim reports whether the response is a 1xx head followed by another
// head, as opposed to 101 which switches protocols.
func (r *Response) Interim() bool {
	return r.StatusCode >= 100 && r.StatusCode < 200 && r.StatusCode != 101
}

// IsEventStream reports whether the response is a Server-Sent Events stream.
func (r *Response) IsEventStream() bool {
	ct := strings.ToLower(r.Get("Content-Type"))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct) == "text/event-stream"
}

// Body returns a reader over the body bytes that follow the head in r,
// framed as the head declares. The reader returns io.EOF at the end of
// the message; bodies with no declared length run until r is exhausted.
// Chunked bodies are returned with their framing intact.
func (r *Response) Body(br *bufio.Reader, method string) (io.Reader, error) {
	switch {
	case method == "HEAD",
		r.StatusCode == 204,
		r.StatusCode == 304,
		r.Interim():
		return bytes.NewReader(nil), nil
	case r.StatusCode == 101:
		return br, nil
	}
	if chunked, present := hasChunked(&r.Headers); present {
		if chunked {
			return newChunkedReader(br), nil
		}
		return br, nil
	}
	if r.Has("Content-Length") {
		n, err := contentLength(&r.Headers)
		if err != nil {
			return nil, err
		}
		return io.LimitReader(br, n), nil
	}
	return br, nil
}

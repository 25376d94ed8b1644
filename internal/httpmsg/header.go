package httpmsg

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for messages that cannot be framed.
	ErrMalformed = errors.New("malformed http message")
	// ErrTooLarge is returned when a message head exceeds MaxHeaderBytes.
	ErrTooLarge = errors.New("http message too large")
)

// MaxHeaderBytes bounds the size of a request or response head.
const MaxHeaderBytes = 64 << 10

var crlf = []byte("\r\n")

// Header is one header line. Raw holds the line exactly as received,
// without its line terminator.
type Header struct {
	Name  string
	Value string
	Raw   []byte
}

// Headers is an ordered header list with a case-insensitive index.
type Headers struct {
	List   []Header
	lookup map[string][]int
}

func (h *Headers) add(hdr Header) {
	if h.lookup == nil {
		h.lookup = make(map[string][]int)
	}
	key := strings.ToLower(hdr.Name)
	h.lookup[key] = append(h.lookup[key], len(h.List))
	h.List = append(h.List, hdr)
}

// Get returns the first value of the named header.
func (h *Headers) Get(name string) string {
	idx := h.lookup[strings.ToLower(name)]
	if len(idx) == 0 {
		return ""
	}
	return h.List[idx[0]].Value
}

// Values returns every value of the named header in order.
func (h *Headers) Values(name string) []string {
	idx := h.lookup[strings.ToLower(name)]
	values := make([]string, 0, len(idx))
	for _, i := range idx {
		values = append(values, h.List[i].Value)
	}
	return values
}

// Has reports whether the named header is present.
func (h *Headers) Has(name string) bool {
	return len(h.lookup[strings.ToLower(name)]) > 0
}

// parseHeaderLine splits one raw header line.
func parseHeaderLine(line []byte) (Header, error) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return Header{}, fmt.Errorf("%w: header line without name", ErrMalformed)
	}
	name := line[:colon]
	if !validToken(name) {
		return Header{}, fmt.Errorf("%w: invalid header name %q", ErrMalformed, name)
	}
	value := bytes.Trim(line[colon+1:], " \t")
	return Header{
		Name:  string(name),
		Value: string(value),
		Raw:   append([]byte(nil), line...),
	}, nil
}

// parseHeaderBlock parses CRLF separated header lines. block excludes the
// final empty line.
func parseHeaderBlock(block []byte) (Headers, error) {
	var h Headers
	for len(block) > 0 {
		line := block
		if i := bytes.Index(block, crlf); i >= 0 {
			line, block = block[:i], block[i+2:]
		} else {
			block = nil
		}
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			return Headers{}, fmt.Errorf("%w: obsolete line folding", ErrMalformed)
		}
		hdr, err := parseHeaderLine(line)
		if err != nil {
			return Headers{}, err
		}
		h.add(hdr)
	}
	return h, nil
}

func validToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`"(),/:;<=>?@[\]{}`, c) >= 0 {
			return false
		}
	}
	return true
}

// hasChunked reports whether the final transfer coding is chunked.
func hasChunked(h *Headers) (chunked, present bool) {
	values := h.Values("Transfer-Encoding")
	if len(values) == 0 {
		return false, false
	}
	codings := strings.Split(strings.Join(values, ","), ",")
	last := strings.ToLower(strings.TrimSpace(codings[len(codings)-1]))
	return last == "chunked", true
}

package httpmsg

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadResponseHead(t *testing.T) {
	raw := "HTTP/1.1 429 Too Many Requests\r\n" +
		"Content-Type: application/json\r\n" +
		"Retry-After: 30\r\n" +
		"Content-Length: 2\r\n" +
		"\r\n" +
		"{}"
	br := bufio.NewReader(strings.NewReader(raw))

	resp, err := ReadResponseHead(br)
	if err != nil {
		t.Fatalf("ReadResponseHead failed: %v", err)
	}
	if resp.StatusCode != 429 || resp.Reason != "Too Many Requests" || resp.Proto != "HTTP/1.1" {
		t.Errorf("status line = %q %d %q", resp.Proto, resp.StatusCode, resp.Reason)
	}
	if resp.Get("retry-after") != "30" {
		t.Errorf("Retry-After = %q", resp.Get("retry-after"))
	}
	if string(resp.Head) != raw[:len(raw)-2] {
		t.Errorf("Head = %q", resp.Head)
	}

	body, err := resp.Body(br, "POST")
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	b, _ := io.ReadAll(body)
	if string(b) != "{}" {
		t.Errorf("body = %q", b)
	}
}

func TestReadResponseHeadErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"truncated", "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n", io.ErrUnexpectedEOF},
		{"empty", "", io.EOF},
		{"bad status", "HTTP/1.1 OK\r\n\r\n", ErrMalformed},
		{"not http", "SSH-2.0-OpenSSH\r\n\r\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadResponseHead(bufio.NewReader(strings.NewReader(tt.raw)))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResponseBodyFraming(t *testing.T) {
	const trailing = "EXTRA"
	tests := []struct {
		name   string
		head   string
		body   string
		method string
	}{
		{"content length", "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n", "hello", "GET"},
		{"chunked verbatim", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n", "5\r\nhello\r\n0\r\nX-T: 1\r\n\r\n", "GET"},
		{"no content", "HTTP/1.1 204 No Content\r\n\r\n", "", "GET"},
		{"not modified", "HTTP/1.1 304 Not Modified\r\nContent-Length: 10\r\n\r\n", "", "GET"},
		{"head request", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n", "", "HEAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := bufio.NewReader(strings.NewReader(tt.head + tt.body + trailing))
			resp, err := ReadResponseHead(br)
			if err != nil {
				t.Fatalf("ReadResponseHead: %v", err)
			}
			body, err := resp.Body(br, tt.method)
			if err != nil {
				t.Fatalf("Body: %v", err)
			}
			got, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != tt.body {
				t.Errorf("body = %q, want %q", got, tt.body)
			}
			rest, _ := io.ReadAll(br)
			if string(rest) != trailing {
				t.Errorf("framing consumed past the message: rest = %q", rest)
			}
		})
	}
}

func TestResponseBodyUntilClose(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("HTTP/1.0 200 OK\r\n\r\nstream until close"))
	resp, err := ReadResponseHead(br)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	body, err := resp.Body(br, "GET")
	if err != nil {
		t.Fatalf("Body: %v", err)
	}
	got, _ := io.ReadAll(body)
	if string(got) != "stream until close" {
		t.Errorf("body = %q", got)
	}
}

func TestChunkedReaderTruncated(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nA\r\nshort"))
	resp, err := ReadResponseHead(br)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	body, _ := resp.Body(br, "GET")
	if _, err := io.ReadAll(body); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestIsEventStream(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/event-stream", true},
		{"Text/Event-Stream; charset=utf-8", true},
		{"application/json", false},
		{"", false},
	}
	for _, tt := range tests {
		raw := "HTTP/1.1 200 OK\r\n"
		if tt.contentType != "" {
			raw += "Content-Type: " + tt.contentType + "\r\n"
		}
		resp, err := ReadResponseHead(bufio.NewReader(strings.NewReader(raw + "\r\n")))
		if err != nil {
			t.Fatalf("ReadResponseHead: %v", err)
		}
		if got := resp.IsEventStream(); got != tt.want {
			t.Errorf("IsEventStream(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestInterim(t *testing.T) {
	for code, want := range map[int]bool{100: true, 103: true, 101: false, 200: false} {
		if got := (&Response{StatusCode: code}).Interim(); got != want {
			t.Errorf("Interim(%d) = %v, want %v", code, got, want)
		}
	}
}

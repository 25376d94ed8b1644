package proxy

import (
	"bufio"
	"context"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/httpmsg"
)

// patternReader yields an endless run of bytes without buffering them.
type patternReader struct{}

func (patternReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a' + byte(i%26)
	}
	return len(p), nil
}

// countingWriter records the total and the largest single write.
type countingWriter struct {
	total    int64
	largest  int
	writes   int
	headSeen bool
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if !w.headSeen {
		w.headSeen = true
		return len(p), nil
	}
	w.total += int64(len(p))
	w.writes++
	if len(p) > w.largest {
		w.largest = len(p)
	}
	return len(p), nil
}

func parseTestHead(t *testing.T, head string, body io.Reader) (*httpmsg.Response, *bufio.Reader) {
	t.Helper()
	br := bufio.NewReader(io.MultiReader(strings.NewReader(head), body))
	resp, err := httpmsg.ReadResponseHead(br)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	return resp, br
}

func TestRelayLargeBodyInBoundedMemory(t *testing.T) {
	const size = 256 << 20
	head := "HTTP/1.1 200 OK\r\nContent-Type: application/octet-stream\r\nContent-Length: " + strconv.Itoa(size) + "\r\n\r\n"
	resp, br := parseTestHead(t, head, patternReader{})

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	dst := &countingWriter{}
	n, err := relayResponse(dst, resp, br, "GET")
	if err != nil {
		t.Fatalf("relayResponse: %v", err)
	}

	runtime.ReadMemStats(&after)
	if dst.total != size {
		t.Errorf("relayed %d body bytes, want %d", dst.total, size)
	}
	if n != int64(len(resp.Head))+size {
		t.Errorf("returned %d, want %d", n, int64(len(resp.Head))+size)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Errorf("allocated %d bytes relaying the body", grew)
	}
}

func TestRelayEventStreamUsesSmallWrites(t *testing.T) {
	const size = 1 << 20
	head := "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream; charset=utf-8\r\n\r\n"
	resp, br := parseTestHead(t, head, io.LimitReader(patternReader{}, size))

	dst := &countingWriter{}
	if _, err := relayResponse(dst, resp, br, "POST"); err != nil {
		t.Fatalf("relayResponse: %v", err)
	}
	if dst.total != size {
		t.Errorf("relayed %d bytes, want %d", dst.total, size)
	}
	if dst.largest > sseBufferSize {
		t.Errorf("largest write %d exceeds %d", dst.largest, sseBufferSize)
	}
}

func TestRelayHeadResponseHasNoBody(t *testing.T) {
	head := "HTTP/1.1 200 OK\r\nContent-Length: 42\r\n\r\n"
	resp, br := parseTestHead(t, head, patternReader{})

	dst := &countingWriter{}
	n, err := relayResponse(dst, resp, br, "HEAD")
	if err != nil {
		t.Fatalf("relayResponse: %v", err)
	}
	if dst.total != 0 || n != int64(len(head)) {
		t.Errorf("HEAD relayed %d body bytes, returned %d", dst.total, n)
	}
}

func TestManagedServerLifecycle(t *testing.T) {
	srv := &Server{
		Router: NewRouter(nil),
		Logger: zap.NewNop(),
	}
	m := NewManagedServer("proxy", "127.0.0.1:0", srv)
	m.Start()
	if err := m.WaitForStartup(5 * time.Second); err != nil {
		t.Fatalf("WaitForStartup: %v", err)
	}
	if m.Addr() == nil {
		t.Fatal("no bound address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)

	select {
	case err, ok := <-m.Errors():
		if ok && err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestManagedServerBindFailure(t *testing.T) {
	m := NewManagedServer("proxy", "256.0.0.1:0", &Server{Logger: zap.NewNop()})
	m.Start()
	if err := m.WaitForStartup(5 * time.Second); err == nil {
		t.Fatal("expected a bind error")
	}
}

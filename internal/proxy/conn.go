package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/rsclarke/swapgate/internal/api"
)

// prefixConn replays bytes that were read from the connection before it
// was handed to its next reader.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func newPrefixConn(prefix []byte, conn net.Conn) net.Conn {
	if len(prefix) == 0 {
		return conn
	}
	return &prefixConn{Conn: conn, prefix: prefix}
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// writeStatus writes a complete, connection-closing response with a JSON
// error body.
func writeStatus(w io.Writer, code int, msg string) error {
	body, err := json.Marshal(api.ErrorResponse{Error: msg})
	if err != nil {
		return err
	}
	return writeJSON(w, code, body)
}

func writeJSON(w io.Writer, code int, body []byte) error {
	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp.Write(w)
}

var connectEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")

// closeWrite half-closes c when it supports it.
func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

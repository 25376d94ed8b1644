package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/events"
	"github.com/rsclarke/swapgate/internal/httpmsg"
)

// MaxRequestBytes bounds a buffered client request, body included.
const MaxRequestBytes = 32 << 20

const handshakeTimeout = 15 * time.Second

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// interceptedTunnel carries one intercepted CONNECT. It is owned by the
// goroutine serving the connection, so its buffer needs no locking.
type interceptedTunnel struct {
	id     string
	host   string
	port   string
	fwd    *Forwarder
	logger *zap.Logger

	client     net.Conn
	buf        []byte
	dispatched bool
}

func (t *interceptedTunnel) serve(ctx context.Context, conn net.Conn, prefix []byte, cfg *tls.Config) {
	if _, err := conn.Write(connectEstablished); err != nil {
		return
	}

	tlsConn := tls.Server(newPrefixConn(prefix, conn), cfg)
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := tlsConn.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		t.logger.Debug("client handshake failed", zap.Error(err))
		return
	}
	defer func() { _ = tlsConn.Close() }()
	t.client = tlsConn

	req, err := t.readRequest()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			events.Event{Kind: events.KindBadRequest, Tunnel: t.id, Host: t.host}.Log(t.logger.With(zap.Error(err)))
			_ = writeStatus(t.client, http.StatusBadRequest, "malformed request")
		}
		return
	}
	t.dispatch(ctx, req)
}

// readRequest buffers client bytes until one complete request is present.
// It returns io.EOF when the client closes without sending anything.
func (t *interceptedTunnel) readRequest() (*httpmsg.Request, error) {
	chunk := make([]byte, 32<<10)
	var req *httpmsg.Request
	continued := false
	for {
		n, err := t.client.Read(chunk)
		t.buf = append(t.buf, chunk[:n]...)

		if n > 0 {
			if req == nil {
				var perr error
				req, perr = httpmsg.ParseHead(t.buf)
				if perr != nil {
					return nil, perr
				}
			}
			if req != nil {
				ok, perr := req.Complete(t.buf)
				if perr != nil {
					return nil, perr
				}
				if ok {
					return req, nil
				}
				if !continued && strings.EqualFold(req.Get("Expect"), "100-continue") {
					continued = true
					if _, werr := t.client.Write(continueResponse); werr != nil {
						return nil, werr
					}
				}
			}
			if len(t.buf) > MaxRequestBytes {
				return nil, httpmsg.ErrTooLarge
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) && len(t.buf) == 0 {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// dispatch forwards the tunnel's request. A tunnel dispatches at most once.
func (t *interceptedTunnel) dispatch(ctx context.Context, req *httpmsg.Request) {
	if t.dispatched {
		return
	}
	t.dispatched = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchClose(t.client, cancel)

	x := &exchange{
		tunnel: t.id,
		host:   t.host,
		port:   t.port,
		req:    req,
		buf:    t.buf,
		client: t.client,
	}
	t.fwd.Forward(ctx, x)
}

// watchClose cancels the request once the client goes away. Bytes sent
// after the dispatched request are discarded.
func watchClose(c net.Conn, cancel context.CancelFunc) {
	_, _ = io.Copy(io.Discard, c)
	cancel()
}

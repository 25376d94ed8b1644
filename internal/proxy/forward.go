package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/events"
	"github.com/rsclarke/swapgate/internal/httpmsg"
	"github.com/rsclarke/swapgate/internal/logging"
	"github.com/rsclarke/swapgate/internal/models"
	"github.com/rsclarke/swapgate/internal/redact"
	"github.com/rsclarke/swapgate/internal/rotation"
)

// sseBufferSize is the relay buffer for event streams; each read is
// written to the client as soon as it arrives.
const sseBufferSize = 4 << 10

// exchange is one client request and the connection its response goes to.
type exchange struct {
	tunnel string
	host   string
	port   string
	req    *httpmsg.Request
	buf    []byte
	client io.Writer

	// wrote is set once any response bytes reached the client.
	wrote bool
}

// Forwarder sends intercepted requests upstream with the active
// credential and rotates credentials on 429 responses.
type Forwarder struct {
	Store rotation.Store
	Dial  DialFunc
	// TLSConfig is the client configuration for upstream connections.
	TLSConfig *tls.Config
	// Header is the credential header replaced in every request; Scheme,
	// when set, prefixes the token as in "Bearer <token>".
	Header      string
	Scheme      string
	UsageHeader string
	MaxRetries  int
	// Port, when set, replaces the CONNECT port for upstream connections.
	Port   string
	Logger *zap.Logger
}

// Forward dispatches x and writes the final response to its client.
func (f *Forwarder) Forward(ctx context.Context, x *exchange) {
	f.dispatch(ctx, x, 0)
}

func (f *Forwarder) credentialValue(token string) string {
	if f.Scheme == "" {
		return token
	}
	return f.Scheme + " " + token
}

func (f *Forwarder) dispatch(ctx context.Context, x *exchange, attempt int) {
	logger := f.Logger.With(logging.Tunnel(x.tunnel))
	path := x.req.Target

	cred, err := f.Store.Active(ctx)
	if err != nil {
		logger.Error("read active credential", logging.Host(x.host), zap.Error(err))
		f.fail(x, http.StatusBadGateway, "rotation store unavailable")
		return
	}
	if cred == nil {
		events.Event{Kind: events.KindNoCredential, Host: x.host, Path: path}.Log(logger)
		f.fail(x, http.StatusBadGateway, "no credential available")
		return
	}
	short := redact.ShortID(cred.ID)

	out := httpmsg.Rebuild(x.req, x.buf, f.Header, f.credentialValue(cred.Token))
	events.Event{
		Kind:       events.KindDispatch,
		Host:       x.host,
		Method:     x.req.Method,
		Path:       path,
		Credential: short,
		Attempt:    attempt,
		HadPrior:   x.req.Has(f.Header),
	}.Log(logger)

	port := x.port
	if f.Port != "" {
		port = f.Port
	}
	upstream, err := f.dialUpstream(ctx, x.host, port)
	if err != nil {
		events.Event{Kind: events.KindUpstreamError, Host: x.host, Path: path, Credential: short}.Log(logger.With(zap.Error(err)))
		f.fail(x, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer func() { _ = upstream.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	if _, err := upstream.Write(out); err != nil {
		events.Event{Kind: events.KindUpstreamError, Host: x.host, Path: path, Credential: short}.Log(logger.With(zap.Error(err)))
		f.fail(x, http.StatusBadGateway, "upstream write failed")
		return
	}

	br := bufio.NewReader(upstream)
	resp, err := f.readHead(br, x)
	if err != nil {
		events.Event{Kind: events.KindUpstreamError, Host: x.host, Path: path, Credential: short}.Log(logger.With(zap.Error(err)))
		f.fail(x, http.StatusBadGateway, "bad upstream response")
		return
	}
	// A tunnel carries one request and its response; upgrades are refused.
	if resp.StatusCode == http.StatusSwitchingProtocols {
		events.Event{Kind: events.KindUpstreamError, Host: x.host, Path: path, Credential: short, Status: resp.StatusCode}.Log(logger)
		f.fail(x, http.StatusBadGateway, "protocol upgrade not supported")
		return
	}
	f.recordUsage(ctx, cred, resp, logger)

	if resp.StatusCode == http.StatusTooManyRequests && attempt < f.MaxRetries {
		if next := f.rotate(ctx, cred, logger); next != nil {
			events.Event{
				Kind:       events.KindRotating,
				Host:       x.host,
				Path:       path,
				Credential: redact.ShortID(next.ID),
				Previous:   short,
				Status:     resp.StatusCode,
			}.Log(logger)
			_ = upstream.Close()
			f.dispatch(ctx, x, attempt+1)
			return
		}
		events.Event{Kind: events.KindExhausted, Host: x.host, Path: path, Credential: short, Status: resp.StatusCode}.Log(logger)
	}

	kind := events.KindResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		kind = events.KindSuccess
	}
	events.Event{Kind: kind, Host: x.host, Path: path, Credential: short, Status: resp.StatusCode}.Log(logger)

	x.wrote = true
	if _, err := relayResponse(x.client, resp, br, x.req.Method); err != nil && ctx.Err() == nil {
		logger.Debug("relay ended", logging.Host(x.host), zap.Error(err))
	}
}

// rotate marks cred exhausted and asks the store for a replacement. It
// returns nil when no eligible credential remains.
func (f *Forwarder) rotate(ctx context.Context, cred *models.Credential, logger *zap.Logger) *models.Credential {
	if err := f.Store.MarkExhausted(ctx, cred.ID); err != nil {
		logger.Warn("mark credential exhausted", logging.Credential(redact.ShortID(cred.ID)), zap.Error(err))
	}
	f.appendEvent(ctx, rotation.EventExhausted, cred.ID, "status=429", logger)

	next, err := f.Store.SelectNext(ctx, cred.ID)
	if err != nil {
		logger.Warn("select next credential", zap.Error(err))
		return nil
	}
	if next == nil {
		f.appendEvent(ctx, rotation.EventDepleted, cred.ID, "", logger)
		return nil
	}
	detail := fmt.Sprintf("from=%s to=%s", redact.ShortID(cred.ID), redact.ShortID(next.ID))
	f.appendEvent(ctx, rotation.EventRotated, next.ID, detail, logger)
	return next
}

func (f *Forwarder) appendEvent(ctx context.Context, kind, credentialID, detail string, logger *zap.Logger) {
	if err := f.Store.AppendEvent(ctx, kind, credentialID, detail); err != nil {
		logger.Warn("append audit event", zap.String("kind", kind), zap.Error(err))
	}
}

// recordUsage stores the utilization the upstream reported for cred.
// Values at or below 1 are fractions and are scaled to percent.
func (f *Forwarder) recordUsage(ctx context.Context, cred *models.Credential, resp *httpmsg.Response, logger *zap.Logger) {
	if f.UsageHeader == "" {
		return
	}
	v := strings.TrimSpace(resp.Get(f.UsageHeader))
	if v == "" {
		return
	}
	pct, err := strconv.ParseFloat(v, 64)
	if err != nil || pct < 0 {
		return
	}
	if pct <= 1 {
		pct *= 100
	}
	if err := f.Store.RecordUsage(ctx, cred.ID, pct); err != nil {
		logger.Warn("record usage", logging.Credential(redact.ShortID(cred.ID)), zap.Error(err))
	}
}

// readHead reads the final response head. A 100 Continue is dropped since
// the full request body was already sent; other interim heads are
// relayed to the client as they arrive.
func (f *Forwarder) readHead(br *bufio.Reader, x *exchange) (*httpmsg.Response, error) {
	for {
		resp, err := httpmsg.ReadResponseHead(br)
		if err != nil {
			return nil, err
		}
		if !resp.Interim() {
			return resp, nil
		}
		if resp.StatusCode == http.StatusContinue {
			continue
		}
		x.wrote = true
		if _, err := x.client.Write(resp.Head); err != nil {
			return nil, err
		}
	}
}

func (f *Forwarder) dialUpstream(ctx context.Context, host, port string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	raw, err := f.Dial(dctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	var cfg *tls.Config
	if f.TLSConfig != nil {
		cfg = f.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.ServerName = host
	cfg.NextProtos = []string{"http/1.1"}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(dctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("upstream handshake: %w", err)
	}
	return conn, nil
}

// fail answers the client with a proxy-generated error unless response
// bytes were already relayed.
func (f *Forwarder) fail(x *exchange, code int, msg string) {
	if x.wrote {
		return
	}
	x.wrote = true
	_ = writeStatus(x.client, code, msg)
}

// relayResponse writes the head and then streams the body as framed by
// the head. Event streams are copied through a small fixed buffer so each
// event is forwarded as soon as it is read.
func relayResponse(dst io.Writer, resp *httpmsg.Response, br *bufio.Reader, method string) (int64, error) {
	n, err := dst.Write(resp.Head)
	if err != nil {
		return int64(n), err
	}
	body, err := resp.Body(br, method)
	if err != nil {
		return int64(n), err
	}

	var copied int64
	if resp.IsEventStream() {
		copied, err = io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{body}, make([]byte, sseBufferSize))
	} else {
		copied, err = io.Copy(dst, body)
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return int64(n) + copied, err
}

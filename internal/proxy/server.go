package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/api"
	"github.com/rsclarke/swapgate/internal/events"
	"github.com/rsclarke/swapgate/internal/logging"
	"github.com/rsclarke/swapgate/internal/redact"
	"github.com/rsclarke/swapgate/internal/rotation"
)

// connectHeadTimeout bounds reading the CONNECT request head.
const connectHeadTimeout = 30 * time.Second

// Server accepts proxy connections. CONNECT requests become tunnels; a
// plain GET of HealthPath is answered with the health document.
type Server struct {
	Router     *Router
	TLSConfig  *tls.Config
	Forwarder  *Forwarder
	Store      rotation.Store
	Dial       DialFunc
	HealthPath string
	Logger     *zap.Logger

	started  time.Time
	requests atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.started = time.Now()
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go func() {
			defer s.untrack(conn)
			defer s.recoverConn(conn)
			s.handleConn(conn)
		}()
	}
}

// recoverConn confines a panic to the connection that raised it; untrack
// then closes that connection.
func (s *Server) recoverConn(conn net.Conn) {
	if r := recover(); r != nil {
		s.Logger.Error("connection handler panic",
			logging.RemoteAddr(conn.RemoteAddr().String()),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

// Shutdown stops accepting connections and waits for open tunnels to end.
// When ctx expires first the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		<-done
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Requests returns the number of tunnels served.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Uptime returns the time since Serve was called.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

func (s *Server) handleConn(conn net.Conn) {
	logger := s.Logger.With(logging.RemoteAddr(conn.RemoteAddr().String()))

	_ = conn.SetReadDeadline(time.Now().Add(connectHeadTimeout))
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("read proxy request", zap.Error(err))
			_ = writeStatus(conn, http.StatusBadRequest, "malformed proxy request")
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if req.Method != http.MethodConnect {
		s.serveLocal(conn, req, logger)
		return
	}

	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		host, port = req.Host, "443"
	}
	if host == "" {
		_ = writeStatus(conn, http.StatusBadRequest, "missing CONNECT target")
		return
	}

	var prefix []byte
	if n := br.Buffered(); n > 0 {
		buffered, _ := br.Peek(n)
		prefix = append([]byte(nil), buffered...)
	}

	s.requests.Add(1)
	id := uuid.NewString()
	logger = logger.With(logging.Tunnel(id))

	if !s.Router.Intercept(host) {
		events.Event{Kind: events.KindPassthrough, Host: host}.Log(logger)
		s.passthrough(conn, net.JoinHostPort(host, port), prefix, logger)
		return
	}

	events.Event{Kind: events.KindIntercepted, Host: host}.Log(logger)
	t := &interceptedTunnel{
		id:     id,
		host:   host,
		port:   port,
		fwd:    s.Forwarder,
		logger: logger,
	}
	t.serve(context.Background(), conn, prefix, s.TLSConfig)
}

// serveLocal answers non-CONNECT requests addressed to the proxy itself.
func (s *Server) serveLocal(conn net.Conn, req *http.Request, logger *zap.Logger) {
	if req.Method != http.MethodGet || req.URL.Path != s.HealthPath {
		_ = writeStatus(conn, http.StatusBadRequest, "only CONNECT is supported")
		return
	}

	health := api.Health{
		Status:        "ok",
		UptimeSeconds: int64(s.Uptime() / time.Second),
		Requests:      s.Requests(),
	}
	state, err := s.Store.State(req.Context())
	if err != nil {
		logger.Warn("read rotation state", zap.Error(err))
		health.Status = "degraded"
	} else {
		health.ActiveCredential = redact.ShortID(state.ActiveID)
	}

	body, err := json.Marshal(health)
	if err != nil {
		logger.Error("encode health", zap.Error(err))
		return
	}
	_ = writeJSON(conn, http.StatusOK, body)
}

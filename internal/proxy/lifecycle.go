package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ManagedServer runs a Server on a TCP address in the background.
type ManagedServer struct {
	server   *Server
	addr     string
	logger   *zap.Logger
	name     string
	ready    chan net.Addr
	errCh    chan error
	bound    net.Addr
	startErr error
}

func NewManagedServer(name, addr string, srv *Server) *ManagedServer {
	return &ManagedServer{
		server: srv,
		addr:   addr,
		logger: srv.Logger,
		name:   name,
		ready:  make(chan net.Addr, 1),
		errCh:  make(chan error, 1),
	}
}

func (m *ManagedServer) Start() {
	go func() {
		ln, err := net.Listen("tcp", m.addr)
		if err != nil {
			m.errCh <- err
			close(m.errCh)
			return
		}
		m.ready <- ln.Addr()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
}

// WaitForStartup blocks until the listener is bound or fails.
func (m *ManagedServer) WaitForStartup(timeout time.Duration) error {
	select {
	case addr := <-m.ready:
		m.bound = addr
		return nil
	case err := <-m.errCh:
		if err != nil {
			m.startErr = err
			return fmt.Errorf("%s failed to start: %w", m.name, err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s did not start within %s", m.name, timeout)
	}
}

// Addr returns the bound listener address once started.
func (m *ManagedServer) Addr() net.Addr { return m.bound }

// Errors delivers a Serve failure after startup.
func (m *ManagedServer) Errors() <-chan error { return m.errCh }

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.startErr != nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}

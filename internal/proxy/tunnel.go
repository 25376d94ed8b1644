package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/swapgate/internal/events"
	"github.com/rsclarke/swapgate/internal/logging"
)

const dialTimeout = 15 * time.Second

// passthrough relays raw bytes between client and addr. Bytes the client
// sent along with the CONNECT head are forwarded before piping starts.
func (s *Server) passthrough(client net.Conn, addr string, prefix []byte, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	upstream, err := s.Dial(ctx, "tcp", addr)
	cancel()
	if err != nil {
		events.Event{Kind: events.KindTunnelError}.Log(logger.With(logging.Addr(addr), zap.Error(err)))
		_ = writeStatus(client, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer func() { _ = upstream.Close() }()

	if _, err := client.Write(connectEstablished); err != nil {
		return
	}
	if len(prefix) > 0 {
		if _, err := upstream.Write(prefix); err != nil {
			return
		}
	}

	if err := pipe(client, upstream); err != nil {
		logger.Debug("tunnel closed", zap.Error(err))
	}
}

// pipe copies in both directions. EOF on one side half-closes the other,
// so a tunnel ends once both directions have finished.
func pipe(a, b net.Conn) error {
	var g errgroup.Group
	g.Go(func() error { return copyHalf(b, a) })
	g.Go(func() error { return copyHalf(a, b) })
	return g.Wait()
}

func copyHalf(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if err != nil {
		_ = dst.Close()
		_ = src.Close()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	closeWrite(dst)
	return nil
}

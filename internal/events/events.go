// Package events defines the proxy's log event kinds and their fields.
package events

import (
	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/logging"
)

// Kind names a proxy log event.
type Kind string

// Event kinds.
const (
	KindStartup       Kind = "startup"
	KindShutdown      Kind = "shutdown"
	KindIntercepted   Kind = "intercepted"
	KindPassthrough   Kind = "passthrough"
	KindDispatch      Kind = "dispatch"
	KindRotating      Kind = "rotating"
	KindSuccess       Kind = "success"
	KindResponse      Kind = "response"
	KindExhausted     Kind = "exhausted"
	KindNoCredential  Kind = "no_credential"
	KindUpstreamError Kind = "upstream_error"
	KindBadRequest    Kind = "bad_request"
	KindTunnelError   Kind = "tunnel_error"
)

// Event carries the non-secret metadata of one log line. Credential
// fields hold short identifiers only.
type Event struct {
	Kind       Kind
	Tunnel     string
	Host       string
	Method     string
	Path       string
	Credential string
	Previous   string
	Status     int
	Attempt    int
	HadPrior   bool
}

// Fields returns the zap fields for the event, omitting unset values.
func (e Event) Fields() []zap.Field {
	fields := []zap.Field{logging.Event(string(e.Kind))}
	if e.Tunnel != "" {
		fields = append(fields, logging.Tunnel(e.Tunnel))
	}
	if e.Host != "" {
		fields = append(fields, logging.Host(e.Host))
	}
	if e.Method != "" {
		fields = append(fields, logging.Method(e.Method))
	}
	if e.Path != "" {
		fields = append(fields, logging.Path(e.Path))
	}
	if e.Credential != "" {
		fields = append(fields, logging.Credential(e.Credential))
	}
	if e.Previous != "" {
		fields = append(fields, logging.PreviousCredential(e.Previous))
	}
	if e.Status != 0 {
		fields = append(fields, logging.Status(e.Status))
	}
	if e.Kind == KindDispatch {
		fields = append(fields, logging.Attempt(e.Attempt), zap.Bool("had_prior_credential", e.HadPrior))
	}
	return fields
}

// Log writes the event at info level with msg set to its kind.
func (e Event) Log(logger *zap.Logger) {
	logger.Info(string(e.Kind), e.Fields()...)
}

package logging

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxPathLength bounds logged request paths.
const maxPathLength = 64

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Event returns a zap field for the event kind.
func Event(kind string) zap.Field { return zap.String("event", kind) }

// Tunnel returns a zap field for a tunnel correlation ID.
func Tunnel(id string) zap.Field { return zap.String("tunnel", id) }

// Host returns a zap field for a host name.
func Host(host string) zap.Field { return zap.String("host", host) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path. The query string is dropped
// and long paths are truncated.
func Path(path string) zap.Field { return zap.String("path", TruncatePath(path)) }

// Status returns a zap field for an HTTP status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// Attempt returns a zap field for a dispatch attempt number.
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

// Credential returns a zap field for a short credential identifier.
// Callers pass redact.ShortID output, never token material.
func Credential(shortID string) zap.Field { return zap.String("credential", shortID) }

// PreviousCredential returns a zap field for the credential rotated away from.
func PreviousCredential(shortID string) zap.Field { return zap.String("previous_credential", shortID) }

// RemoteAddr returns a zap field for a client address.
func RemoteAddr(addr string) zap.Field { return zap.String("remote_addr", addr) }

// Uptime returns a zap field for process uptime in whole seconds.
func Uptime(d time.Duration) zap.Field { return zap.Int64("uptime_seconds", int64(d/time.Second)) }

// Requests returns a zap field for a request count.
func Requests(n int64) zap.Field { return zap.Int64("requests", n) }

// TruncatePath strips the query string and caps the length of path.
func TruncatePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > maxPathLength {
		path = path[:maxPathLength]
	}
	return path
}

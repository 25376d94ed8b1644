// Package proxy implements the CONNECT proxy engine.
//
// A CONNECT to a host in the intercept set is answered, TLS is terminated
// with the local interception certificate, and the single request carried
// by the tunnel is forwarded upstream with the active credential
// substituted. A 429 from upstream rotates to the next credential and
// replays the request. Every other CONNECT becomes a raw byte tunnel.
//
// Each tunnel dispatches exactly one request; the client must open a new
// tunnel for the next request. Upstream connections are never reused, so
// every request reads the active credential afresh.
package proxy

package proxy

import "strings"

// Router decides which CONNECT targets are intercepted. Matching is exact
// and case-insensitive; there are no wildcards.
type Router struct {
	hosts map[string]struct{}
}

func NewRouter(hosts []string) *Router {
	r := &Router{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		r.hosts[normalizeHost(h)] = struct{}{}
	}
	return r
}

// Intercept reports whether host is in the intercept set.
func (r *Router) Intercept(host string) bool {
	_, ok := r.hosts[normalizeHost(host)]
	return ok
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

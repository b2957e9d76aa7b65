package netutil

import (
	"net"
	"net/http"
	"strings"
)

// ClientAddr returns the source host of r without its port. It trusts
// r.RemoteAddr only; run chi's RealIP middleware in front when the relay sits
// behind a proxy.
func ClientAddr(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(remote, "[]")
}

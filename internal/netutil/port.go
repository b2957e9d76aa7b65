package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoBindAddr means neither the preferred address nor any candidate could be bound.
var ErrNoBindAddr = errors.New("no available relay bind addresses")

// SelectBindAddr returns preferred when it can be bound, otherwise the first
// free candidate when autoFallback is set.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		if available(preferred) {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		if available(addr) {
			return addr, nil
		}
	}
	return "", ErrNoBindAddr
}

// ParseCandidates splits a comma separated address list, dropping blanks.
func ParseCandidates(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func available(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	return ln.Close() == nil
}

package admission

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/boxoffice_relay/internal/netutil"
)

// Middleware refuses polls from addresses over their request ceiling.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		addr := netutil.ClientAddr(r)
		if err := l.Admit(addr); err != nil {
			WriteRejection(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteRejection answers a refused upgrade or poll with 429.
func WriteRejection(w http.ResponseWriter, err error) {
	body := map[string]string{"error": string(ReasonRateLimited)}
	var rej *RejectError
	if errors.As(err, &rej) {
		body["reason"] = string(rej.Reason)
		slog.Debug("admission rejected", "addr", rej.Addr, "reason", rej.Reason)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("rejection response write failed", "error", err)
	}
}

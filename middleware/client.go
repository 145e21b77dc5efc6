package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// ClientContext attaches the caller's IP and User-Agent to the request
// context. The IP comes from RemoteAddr. Behind a load balancer that
// overwrites forwarding headers, put chi's RealIP in front of it; without
// such a proxy those headers are caller-controlled and must be ignored.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

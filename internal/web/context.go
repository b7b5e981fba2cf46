package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/refgrid/internal/core"
	"github.com/JonMunkholm/refgrid/internal/web/middleware"
)

// withRequestMeta attaches the client address and user agent to the context
// so submitted commands can be attributed in the command log.
// RemoteAddr has already been resolved by TrustedRealIP.
func withRequestMeta(r *http.Request) context.Context {
	return core.WithRequestMeta(r.Context(), core.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

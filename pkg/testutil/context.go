package testutil

import (
	"net/http"

	"verity/pkg/requestcontext"
)

// WithClientIP sets the caller address the way the request middleware does,
// for handlers tested without the full chain.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}

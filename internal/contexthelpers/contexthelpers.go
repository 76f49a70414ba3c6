// Package contexthelpers carries per-request values that templates need from middleware to handlers.
package contexthelpers

import (
	"context"
	"net/http"
)

type key int

const (
	csrfTokenKey key = iota
	cspNonceKey
)

// SetCSRFToken stores the nosurf token rendered into the story forms.
func SetCSRFToken(r *http.Request, token string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), csrfTokenKey, token))
}

// CSRFToken returns the token stored by SetCSRFToken or an empty string.
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfTokenKey).(string)
	return token
}

// SetCSPNonce stores the nonce that inline scripts must carry to pass the Content-Security-Policy.
func SetCSPNonce(r *http.Request, nonce string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), cspNonceKey, nonce))
}

func CSPNonce(ctx context.Context) string {
	nonce, _ := ctx.Value(cspNonceKey).(string)
	return nonce
}

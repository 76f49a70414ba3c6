package main

import (
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
)

// flashSessionKey holds a one-off notice shown on the next page view.
const flashSessionKey = "flash"

// newSessionManager keeps sessions in memory. They only carry flash notices.
func newSessionManager(secure bool) *scs.SessionManager {
	sessionManager := scs.New()
	sessionManager.Store = memstore.NewWithCleanupInterval(time.Hour)
	sessionManager.Lifetime = 12 * time.Hour //nolint:mnd // 12 hours
	sessionManager.Cookie.Secure = secure
	return sessionManager
}

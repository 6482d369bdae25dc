package mw

import (
	"net/http"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
)

// MaxWaitDuration is how long a wait=true status request may block.
const MaxWaitDuration = constants.WaitMaxAttempts * constants.WaitInterval

// ExtendWriteDeadlineForWaitRequests extends the HTTP write deadline for
// status requests with wait=true, which block until the video is ready and
// would otherwise be cut off by the server's WriteTimeout.
func ExtendWriteDeadlineForWaitRequests() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWaitRequest(r) {
				rc := http.NewResponseController(w)
				// Some writers (and httptest recorders) cannot extend; the request may then end early.
				_ = rc.SetWriteDeadline(time.Now().Add(MaxWaitDuration + 30*time.Second))
			}
			next.ServeHTTP(w, r)
		})
	}
}

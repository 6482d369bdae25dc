package mw

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

// panicWithStack captures a panic value along with its stack trace.
type panicWithStack struct {
	value any
	stack []byte
}

// TimeoutConfig defines timeout behavior for different requests.
type TimeoutConfig struct {
	// Default timeout for most endpoints
	Default time.Duration
	// Extended timeout for uploads that also call the video provider
	Extended time.Duration
	// Path fragments that get the extended timeout when the method is POST
	ExtendedPatterns []string
	// Requests with wait=true block on the generation itself and are not timed out here
	SkipWaitRequests bool
}

// Timeout returns a middleware that applies configurable timeouts to requests.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipWaitRequests && isWaitRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			timeout := cfg.Default
			if r.Method == http.MethodPost {
				for _, pattern := range cfg.ExtendedPatterns {
					if strings.Contains(r.URL.Path, pattern) {
						timeout = cfg.Extended
						break
					}
				}
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			panicChan := make(chan *panicWithStack, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- &panicWithStack{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
				return
			case p := <-panicChan:
				// Re-panic on the serving goroutine so Recoverer sees it
				panic(fmt.Sprintf("%v\n\nOriginal stack trace:\n%s", p.value, p.stack))
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					w.WriteHeader(http.StatusGatewayTimeout)
					return
				}
			}
		})
	}
}

func isWaitRequest(r *http.Request) bool {
	return r.URL.Query().Get("wait") == "true"
}

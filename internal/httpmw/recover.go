package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/kmxconnect/feedsync/internal/log"
)

// Recover converts handler panics into a 500 response, logs the panic
// value with a stack, and invokes onPanic (if non-nil) so callers can
// count recovered panics.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}

				logger.Error(r.Context(), err, "recovered from handler panic",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				if onPanic != nil {
					onPanic()
				}

				http.Error(w, "internal server error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. Requests
// exceeding the cap fail inside the handler's body read with a
// *http.MaxBytesError, which surfaces as 413.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

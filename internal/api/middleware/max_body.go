package middleware

import (
	"log"
	"net/http"

	"github.com/loomchat/loom-memory/internal/api"
)

// MaxBodyBytes caps request body size. Memory payloads are small JSON
// bodies and documents are indexed by path rather than uploaded, so the
// cap can stay tight.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit && r.ContentLength != -1 {
				log.Printf("rejected oversized body (%d bytes) on %s %s request_id=%s",
					r.ContentLength, r.Method, r.URL.Path, GetRequestID(r.Context()))
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

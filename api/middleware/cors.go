package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

// CORS lets the storefront origins call the API with credentials. With no
// origins configured only the local dev server is allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", idempotencyHeader, "X-Request-Id"},
		// readable by browser scripts
		ExposedHeaders:   []string{"X-Request-Id", replayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeSeconds,
	}).Handler
}

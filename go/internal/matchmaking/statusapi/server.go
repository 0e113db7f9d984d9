package statusapi

import (
	"net/http"
	"time"

	"github.com/rs/cors"
)

// NewServer builds the local status server with CORS for the given origins
func NewServer(addr string, allowedOrigins []string, s SessionController) *http.Server {
	mux := http.NewServeMux()
	NewHandler(s).RegisterRoutes(mux)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:         addr,
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

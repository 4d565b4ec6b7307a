package main

import (
	"net/http"
	"time"

	"github.com/mcdev12/reflex/go/internal/admin"
	"github.com/mcdev12/reflex/go/internal/config"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services) (*http.Server, error) {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// WebSocket game traffic and connection stats
	services.WebSocket.RegisterRoutes(mux)

	// Admin RPCs plus reflection for grpcui/grpcurl
	if err := admin.RegisterRoutes(mux, services.Admin); err != nil {
		return nil, err
	}

	mux.Handle("/health", services.Health)
	mux.Handle("/metrics", services.Metrics.Handler())

	// Wrap with CORS
	handler := c.Handler(mux)

	// No WriteTimeout: it would cut long-lived WebSocket connections.
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}, nil
}

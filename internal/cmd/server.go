package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

func setupServer(services *Services, cfg *Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", services.API.Routes())
	r.Get("/ws", services.Gateway.HandleTimerSocket)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: c.Handler(r),
	}
}

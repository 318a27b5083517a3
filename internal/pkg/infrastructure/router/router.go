package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/riandyrn/otelchi"
	"github.com/rs/cors"
)

type OptionFunc func(*options)

type options struct {
	allowedOrigins []string
	tracing        bool
}

// WithAllowedOrigins restricts cross origin requests to the given origins.
func WithAllowedOrigins(origins []string) OptionFunc {
	return func(o *options) {
		if len(origins) > 0 {
			o.allowedOrigins = origins
		}
	}
}

// WithTracing controls whether requests are wrapped in server spans.
func WithTracing(enabled bool) OptionFunc {
	return func(o *options) {
		o.tracing = enabled
	}
}

func New(serviceName string, opts ...OptionFunc) *chi.Mux {
	o := &options{
		allowedOrigins: []string{"*"},
		tracing:        true,
	}

	for _, opt := range opts {
		opt(o)
	}

	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   o.allowedOrigins,
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	if o.tracing {
		r.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(r)))
	}

	return r
}

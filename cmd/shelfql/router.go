package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/vvakame/shelfql/catalog"
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/config"
	shelflog "github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/pubsub"
	"github.com/vvakame/shelfql/internal/resolver"
	"github.com/vvakame/shelfql/internal/store"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// newRouter wires the catalog into the HTTP surface. The returned func
// releases the bookAdded broadcaster.
func newRouter(ctx context.Context, cfg *config.Config, s store.Store, logger logr.Logger) (http.Handler, func(), error) {
	signer, err := auth.NewSigner(cfg.Secret, time.Duration(cfg.TokenTTL))
	if err != nil {
		return nil, nil, err
	}

	bookAdded := pubsub.New[*model.Book](resolver.TopicBookAdded)

	gql, err := catalog.NewHandler(ctx, &catalog.Config{
		Store:          s,
		Signer:         signer,
		BookAdded:      bookAdded,
		SharedPassword: cfg.SharedPassword,
	}, &catalog.HandlerConfig{
		Logger:          logger,
		Introspection:   cfg.Introspection,
		ComplexityLimit: cfg.ComplexityLimit,
	})
	if err != nil {
		bookAdded.Close()
		return nil, nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(shelflog.Middleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz(s))
	if cfg.Playground {
		r.Handle("/", playground.Handler("shelfql", "/query"))
	}
	r.Handle("/query", gql)

	return r, bookAdded.Close, nil
}

func healthz(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if p, ok := s.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				shelflog.FromContext(r.Context()).Error(err, "store is unreachable")
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

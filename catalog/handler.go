package catalog

import (
	"context"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/auth"
)

type HandlerConfig struct {
	Logger logr.Logger
	// Introspection enables __schema and __type queries.
	Introspection bool
	// ComplexityLimit rejects operations above the limit. 0 disables it.
	ComplexityLimit int
	// KeepAlive is the websocket ping interval.
	KeepAlive time.Duration
	// CheckOrigin validates the Origin of websocket upgrades. nil accepts
	// every origin.
	CheckOrigin func(r *http.Request) bool
}

// NewHandler serves the catalog over HTTP POST, GET and websocket.
// Bearer credentials are read from the Authorization header, or from the
// connection_init payload of websocket connections.
func NewHandler(ctx context.Context, cfg *Config, hcfg *HandlerConfig) (http.Handler, error) {
	c, err := newCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}

	checkOrigin := hcfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	keepAlive := hcfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 10 * time.Second
	}

	srv := handler.New(c)
	srv.AddTransport(transport.Websocket{
		KeepAlivePingInterval: keepAlive,
		InitFunc:              auth.WebsocketInit,
		Upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	srv.SetQueryCache(lru.New(1000))

	if hcfg.Introspection {
		srv.Use(extension.Introspection{})
	}
	srv.Use(extension.AutomaticPersistedQuery{
		Cache: lru.New(100),
	})
	if hcfg.ComplexityLimit > 0 {
		srv.Use(extension.FixedComplexityLimit(hcfg.ComplexityLimit))
	}

	srv.SetErrorPresenter(apperr.Presenter(hcfg.Logger))
	srv.SetRecoverFunc(apperr.Recover)
	srv.AroundOperations(c.aroundOperations)

	return auth.Middleware(srv), nil
}

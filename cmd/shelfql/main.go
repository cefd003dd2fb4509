package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/stdr"
	"github.com/urfave/cli/v2"
	"github.com/vvakame/shelfql/catalog"
	"github.com/vvakame/shelfql/internal/config"
	shelflog "github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/store"
	"github.com/vvakame/shelfql/internal/telemetry"
)

func main() {
	err := realMain(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func realMain(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newApp().RunContext(ctx, args)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "shelfql",
		Usage: "GraphQL book catalog server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"SHELFQL_CONFIG"},
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port",
			},
			&cli.StringFlag{
				Name:  "database-url",
				Usage: "PostgreSQL connection string, the in-memory store is used when empty",
			},
			&cli.IntFlag{
				Name:  "v",
				Usage: "log verbosity",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "create the PostgreSQL tables before serving",
				Value: true,
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "print the GraphQL schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sorted",
						Usage: "order fields and arguments by name",
					},
				},
				Action: func(c *cli.Context) error {
					return catalog.PrintSchema(c.App.Writer, c.Bool("sorted"))
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("v") {
		cfg.Verbosity = c.Int("v")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	stdr.SetVerbosity(cfg.Verbosity)
	logger := stdr.New(log.Default())
	ctx := shelflog.WithLogger(c.Context, logger)

	shutdownTracing, err := telemetry.Setup(ctx, "shelfql", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error(err, "failed to set up tracing")
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error(err, "failed to flush traces")
		}
	}()

	s, err := openStore(ctx, cfg, c.Bool("migrate"))
	if err != nil {
		logger.Error(err, "failed to open store")
		return err
	}
	defer s.Close()

	router, closeRouter, err := newRouter(ctx, cfg, s, logger)
	if err != nil {
		logger.Error(err, "failed to build router")
		return err
	}
	defer closeRouter()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening server", "addr", srv.Addr, "persistent", cfg.DatabaseURL != "")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		shelflog.FromContext(ctx).Info("using in-memory store")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}


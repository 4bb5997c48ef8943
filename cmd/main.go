package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ruby4mag/riskgate-backend/internal/ai"
	"github.com/ruby4mag/riskgate-backend/internal/assessment"
	"github.com/ruby4mag/riskgate-backend/internal/auth"
	"github.com/ruby4mag/riskgate-backend/internal/config"
	"github.com/ruby4mag/riskgate-backend/internal/db"
	"github.com/ruby4mag/riskgate-backend/internal/graph"
	"github.com/ruby4mag/riskgate-backend/internal/handlers"
	"github.com/ruby4mag/riskgate-backend/internal/logging"
	"github.com/ruby4mag/riskgate-backend/internal/policy"
	"github.com/ruby4mag/riskgate-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	matrix := policy.DefaultMatrix()
	if cfg.Policy.RolesFile != "" {
		m, err := config.LoadRoleMatrix(cfg.Policy.RolesFile)
		if err != nil {
			return err
		}
		matrix = m
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, closeTokens, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	var (
		indexer *graph.Indexer
		lineage handlers.Lineage
	)
	if cfg.Graph.URI != "" {
		driver, err := db.NewNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			return err
		}
		client := graph.NewNeo4jClient(driver, cfg.Graph.Database)
		defer func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		}()
		indexer = graph.NewIndexer(client)
		lineage = indexer
	} else {
		logger.Info("NEO4J_URI not set, lineage graph disabled")
	}

	if cfg.AI.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, assessments will fail")
	}
	analyzer := ai.NewClient(ai.Config{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})

	opts := assessment.Options{Logger: logger}
	if indexer != nil {
		opts.Indexer = indexer
	}
	svc := assessment.NewService(st, analyzer, opts)

	h := handlers.New(handlers.Deps{
		Store:        st,
		Registry:     policy.NewRegistry(st, matrix, policy.Options{DefaultLimit: cfg.Policy.DefaultAssessmentLimit, Logger: logger}),
		Service:      svc,
		Issuer:       auth.NewIssuer(cfg.Auth.JWTSecret),
		Tokens:       tokens,
		Lineage:      lineage,
		DefaultLimit: cfg.Policy.DefaultAssessmentLimit,
		Logger:       logger,
	})

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger))
	r.Use(cors.New(corsConfig(cfg.HTTP.AllowedOrigins)))
	h.Register(r)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "X-Requested-With", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		conn, err := db.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(conn)
		if err := pg.Migrate(ctx); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return pg, func() { _ = conn.Close() }, nil

	case config.DriverMemory:
		return store.NewMemoryStore(), func() {}, nil

	default:
		database, err := db.ConnectMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		ms := store.NewMongoStore(database)
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = database.Client().Disconnect(context.Background())
			return nil, nil, err
		}
		return ms, func() { _ = database.Client().Disconnect(context.Background()) }, nil
	}
}

// openTokenStore keeps refresh tokens in Redis. The in-memory store backend
// also keeps tokens in memory so it runs without any server.
func openTokenStore(ctx context.Context, cfg config.Config) (auth.TokenStore, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		return auth.NewMemoryTokenStore(), func() {}, nil
	}
	client, err := db.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisTokenStore(client), func() { _ = client.Close() }, nil
}

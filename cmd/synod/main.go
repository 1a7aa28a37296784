// synod is the deliberation engine's HTTP server: it fans a question out to
// a panel of LLM endpoints, has them peer-review and rank each other, and
// has a moderator synthesize a final answer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/synod-run/synod/pkg/api"
	"github.com/synod-run/synod/pkg/config"
	"github.com/synod-run/synod/pkg/database"
	"github.com/synod-run/synod/pkg/dispatcher"
	"github.com/synod-run/synod/pkg/ledger"
	"github.com/synod-run/synod/pkg/pipeline"
	"github.com/synod-run/synod/pkg/store"
	"github.com/synod-run/synod/pkg/upstream"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database")

	st := store.New(dbClient.DB())
	lg := ledger.New(dbClient.DB())
	upstreamClient := upstream.NewClient(cfg)
	scheduler := pipeline.New(cfg, upstreamClient, st, lg)
	d := dispatcher.New(cfg, st, lg, scheduler)

	// P9: remove any (legacy-only) Answer left half-committed by a prior
	// crash before serving any request.
	removed, err := st.CleanupIncompleteMessages(ctx)
	if err != nil {
		slog.Error("failed to clean up incomplete messages", "error", err)
		os.Exit(1)
	}
	if removed > 0 {
		slog.Info("removed incomplete messages from a prior crash", "count", removed)
	}

	gin.SetMode(cfg.HTTP.GinMode)
	router := gin.Default()

	server := api.NewServer(d, st, cfg, dbClient)
	server.RegisterRoutes(router)

	slog.Info("starting synod", "port", cfg.HTTP.Port, "modes", len(cfg.Modes), "llm_providers", len(cfg.LLMProviders))

	// No server-wide WriteTimeout: the streaming handlers (message/stream,
	// rerun) can legitimately run for as long as a deliberation takes.
	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

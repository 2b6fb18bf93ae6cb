package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge"
	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/httpapi"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/llm/anthropic"
	"github.com/draftforge/draftforge/llm/openai"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/patents"
	"github.com/draftforge/draftforge/session"
)

var (
	serveAddr     string
	serveProvider string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Start the DraftForge HTTP API: run lifecycle, SSE event streaming,
session listing, synchronous prior-art search and HTML report rendering.

Configuration is read from the environment (a .env file is honored):
  ANTHROPIC_API_KEY / OPENAI_API_KEY  LLM backend credentials
  PATENTSVIEW_API_KEY                 enables prior-art search
  DRAFTFORGE_DB                       sqlite path for durable sessions
  DRAFTFORGE_ADDR                     listen address (default :8000)`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides DRAFTFORGE_ADDR)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "LLM provider: anthropic or openai (default: auto-detect from env)")
}

func buildGateway() (llm.Gateway, error) {
	switch serveProvider {
	case "anthropic":
		return anthropic.New(), nil
	case "openai":
		return openai.New(), nil
	case "":
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			return anthropic.New(), nil
		}
		if os.Getenv("OPENAI_API_KEY") != "" {
			return openai.New(), nil
		}
		return nil, fmt.Errorf("no LLM credentials found; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	default:
		return nil, fmt.Errorf("unknown provider %q", serveProvider)
	}
}

func buildStore(logger logging.Logger) (core.SessionStore, error) {
	dbPath := os.Getenv("DRAFTFORGE_DB")
	if dbPath == "" {
		logger.Warn("DRAFTFORGE_DB not set, sessions are volatile")
		return session.NewInMemoryStore(), nil
	}
	return session.NewSQLiteStore(dbPath)
}

func buildSearcher(logger logging.Logger) (handler.PatentSearcher, handler.ClaimsFetcher, error) {
	apiKey := os.Getenv("PATENTSVIEW_API_KEY")
	if apiKey == "" {
		logger.Info("PATENTSVIEW_API_KEY not set, prior-art search disabled")
		return nil, nil, nil
	}
	client, err := patents.NewClient(patents.Config{APIKey: apiKey, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	claims := patents.NewClaimsSource(client, patents.NewGoogleScraper(30*time.Second))
	return client, claims, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	gateway, err := buildGateway()
	if err != nil {
		return err
	}
	store, err := buildStore(logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	searcher, claims, err := buildSearcher(logger)
	if err != nil {
		return fmt.Errorf("patent search client: %w", err)
	}

	df, err := draftforge.New(gateway, func(o *draftforge.Options) {
		o.SessionStore = store
		o.Searcher = searcher
		o.ClaimsFetcher = claims
		o.UseLLMClassifier = true
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	api := httpapi.NewServer(df.Orchestrator(), store,
		httpapi.WithLogger(logger),
		httpapi.WithPriorArtHandler(df.PriorArtHandler()))

	addr := serveAddr
	if addr == "" {
		addr = envOr("DRAFTFORGE_ADDR", ":8000")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr, "provider", gateway.Info().Provider)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

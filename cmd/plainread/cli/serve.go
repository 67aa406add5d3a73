package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calewis/plainread/internal/api"
	"github.com/calewis/plainread/internal/config"
	"github.com/calewis/plainread/internal/docstore"
	"github.com/calewis/plainread/internal/parser"
	"github.com/calewis/plainread/internal/pipeline"
	"github.com/calewis/plainread/internal/rewrite"
	"github.com/calewis/plainread/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plainread HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Clients.
	src := source.NewClient(cfg.SourceAPIBase)
	model := rewrite.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	store := docstore.NewClient(cfg.DocstoreURL, cfg.DocstoreAPIKey)

	// Pipeline.
	runner := pipeline.NewRunner(src, model, store, log, parser.Options{
		MinParagraphChars: cfg.MinParagraphChars,
		ImageBase:         cfg.ImageBase,
	})
	jobs := pipeline.NewJobStore(cfg.JobTTL)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jobs.Cleanup()
			}
		}
	}()

	srv := api.NewServer(runner, jobs, store, model.StatsSnapshot, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// No write timeout: progress streams stay open for the whole run.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		model.Close()
		store.Close()
		src.Close()
	}()

	log.Info("starting plainread", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

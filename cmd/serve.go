package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelforge-studio/pixelforge/internal/batch"
	"github.com/pixelforge-studio/pixelforge/internal/config"
	"github.com/pixelforge-studio/pixelforge/internal/design"
	"github.com/pixelforge-studio/pixelforge/internal/gemini"
	"github.com/pixelforge-studio/pixelforge/internal/handlers"
	"github.com/pixelforge-studio/pixelforge/internal/images"
	"github.com/pixelforge-studio/pixelforge/internal/ledger"
	"github.com/pixelforge-studio/pixelforge/internal/ollama"
	"github.com/pixelforge-studio/pixelforge/internal/openai"
	"github.com/pixelforge-studio/pixelforge/internal/render"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the design generation API server",
		Long: `Starts the PixelForge API on the specified port.

The API accepts multipart generation requests (brief, optional background
and logo images, brand preferences) and returns rendered design variants.`,
		Example: `  # Start server on default port 8888
  pixelforge serve

  # Start server on custom port
  pixelforge serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			catalog, err := design.LoadCatalog()
			if err != nil {
				return err
			}

			credits, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer credits.Close()

			// Background image generation always goes through Gemini, so
			// the client is constructed whenever a key is available even
			// when another provider handles markup.
			var gem *gemini.Client
			if cfg.GeminiAPIKey != "" || cfg.Provider == "gemini" {
				gem, err = gemini.New(cmd.Context(), gemini.Options{
					APIKey:     cfg.GeminiAPIKey,
					TextModel:  cfg.TextModel,
					ImageModel: cfg.ImageModel,
				})
				if err != nil {
					return err
				}
				defer gem.Close()
			}

			var generator batch.ContentGenerator
			switch cfg.Provider {
			case "gemini":
				generator = gem
			case "openai":
				generator, err = openai.New(openai.Options{
					APIKey: cfg.OpenAIAPIKey,
					Model:  cfg.TextModel,
				})
				if err != nil {
					return err
				}
			case "ollama":
				generator = ollama.New(ollama.Options{
					URL:   cfg.OllamaURL,
					Model: cfg.TextModel,
				})
			}
			slog.Info("Using content provider", "provider", cfg.Provider)

			renderer, err := render.NewRenderer(render.Options{
				PoolSize:    int(cfg.MaxRenders),
				ExecPath:    cfg.ChromePath,
				Timeout:     cfg.RenderTimeout,
				SettleDelay: cfg.SettleDelay,
			})
			if err != nil {
				return err
			}
			defer renderer.Close()

			orchestrator := batch.New(generator, renderer, batch.Options{
				MaxGenerations: cfg.MaxGenerations,
				MaxRenders:     cfg.MaxRenders,
				Timeout:        cfg.RequestTimeout,
			})

			var backgroundGen handlers.BackgroundGenerator
			if gem != nil {
				backgroundGen = gem
			}

			handler := handlers.New(handlers.Options{
				Runner:         orchestrator,
				Background:     backgroundGen,
				Fetcher:        images.NewFetcher(),
				Credits:        credits,
				Catalog:        catalog,
				PerVariantCost: cfg.PerVariantCost,
				BackgroundCost: cfg.BackgroundCost,
			})

			// Set up routes
			mux := http.NewServeMux()
			mux.HandleFunc("/api/designs", handler.HandleGenerate)
			mux.HandleFunc("/api/background-image", handler.HandleBackgroundImage)
			mux.HandleFunc("/api/templates", handler.HandleTemplates)
			mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			})

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("PixelForge API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides config)")

	return cmd
}

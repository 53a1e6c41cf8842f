package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eventposter/internal/config"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/metrics"
	"eventposter/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction HTTP API",
	Long: `Start the HTTP API.

Endpoints:
  POST {API_V1_PREFIX}/extract  multipart upload (file, lang, timezone,
                                force_route, provider, api_key)
  GET  /health                  service health
  GET  /metrics                 Prometheus metrics

The server stops gracefully on SIGINT or SIGTERM.`,
	Example: `  eventposter serve
  eventposter serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTPAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	orch, closePorts, err := buildPipeline(ctx, cfg, "", log)
	if err != nil {
		return handleExtractError(err, log)
	}
	defer closePorts()

	srv := server.New(orch, providerFactory(cfg), server.Options{
		ProjectName:         cfg.ProjectName,
		APIPrefix:           cfg.APIV1Prefix,
		CORSOrigins:         cfg.CORSOrigins,
		MaxFileSize:         cfg.MaxFileSize,
		AllowedContentTypes: cfg.AllowedContentTypes,
		DefaultLang:         cfg.OCRDefaultLang,
	})
	return srv.ListenAndServe(ctx, addr)
}

// providerFactory builds per-request field extractors from the configured
// LLM settings.
func providerFactory(cfg *config.Config) server.ProviderFactory {
	return func(ctx context.Context, provider, apiKey string) (llm.FieldExtractor, error) {
		return llm.New(ctx, cfg.LLMOptionsFor(provider, apiKey))
	}
}

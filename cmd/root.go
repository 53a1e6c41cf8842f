package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"eventposter/internal/config"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/ocr"
	"eventposter/internal/pipeline"
)

var version = "1.0.0"

var (
	appConfig    *config.Config
	appConfigErr error
)

var rootCmd = &cobra.Command{
	Use:   "eventposter",
	Short: "Extract structured event details from poster images",
	Long: `eventposter reads event posters (JPEG, PNG, WebP) and extracts the
event name, date, time, venue, contact details and more.

Each poster is scored for blur and visual complexity and routed either through
OCR followed by a text model, or straight to a vision model. Results are
normalized, validated and returned as a JSON envelope.

Providers are configured through environment variables or a .env file:
  LLM_PROVIDER   mock (default), gemini or openai
  LLM_API_KEY    API key for the selected provider
  OCR_PROVIDER   none (default), google_vision or documentai`,
	Version:      version,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the CLI. cfgErr is the configuration load error, if any; it is
// reported by the commands that need configuration.
func Execute(cfg *config.Config, cfgErr error) {
	log := logger.WithComponent("cmd")
	appConfig, appConfigErr = cfg, cfgErr

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// requireConfig returns the loaded configuration or the reason it is missing.
func requireConfig() (*config.Config, error) {
	if appConfigErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", appConfigErr)
	}
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return appConfig, nil
}

// createContextWithTimeout returns a context that is cancelled after the
// timeout or on SIGINT/SIGTERM. A non-positive timeout disables the deadline.
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// buildPipeline creates both ports and the orchestrator. provider overrides
// LLM_PROVIDER when non-empty. The returned close function releases the ports.
func buildPipeline(ctx context.Context, cfg *config.Config, provider string, log zerolog.Logger) (*pipeline.Orchestrator, func(), error) {
	text, err := ocr.New(ctx, cfg.OCROptions())
	if err != nil {
		return nil, nil, err
	}

	fields, err := llm.New(ctx, cfg.LLMOptionsFor(provider, ""))
	if err != nil {
		_ = text.Close()
		return nil, nil, err
	}

	log.Debug().
		Str("llm_provider", fields.Name()).
		Str("ocr_provider", text.Name()).
		Msg("Pipeline ready")

	closeAll := func() {
		if err := fields.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close field extractor")
		}
		if err := text.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close text extractor")
		}
	}
	return pipeline.New(text, fields, cfg.PipelineConfig()), closeAll, nil
}

// writeOutput writes data to path, or to stdout when path is empty.
func writeOutput(data []byte, path string, log zerolog.Logger) error {
	if path == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", path).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", path).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}

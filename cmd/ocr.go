package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"eventposter/internal/imaging"
	"eventposter/internal/logger"
	"eventposter/internal/ocr"
	"eventposter/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image]",
	Short: "Recognize poster text with the configured OCR backend",
	Long: `Normalize a poster image and run only the text extraction step, printing
the recognized text in reading order.

The backend is selected by OCR_PROVIDER (google_vision or documentai).

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - for documentai`,
	Example: `  # Print recognized text
  eventposter ocr poster.jpg

  # Text plus layout blocks as JSON
  eventposter ocr poster.jpg --json -o blocks.json

  # Show each block with its position and confidence
  eventposter ocr poster.jpg --blocks --lang de`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	FileName           string               `json:"file_name"`
	FileSize           int                  `json:"file_size"`
	Provider           string               `json:"provider"`
	Width              int                  `json:"width"`
	Height             int                  `json:"height"`
	Text               string               `json:"text"`
	Blocks             []models.LayoutBlock `json:"blocks"`
	ProcessedAt        time.Time            `json:"processed_at"`
	ProcessingDuration string               `json:"processing_duration"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().BoolP("blocks", "b", false, "List layout blocks with position and confidence")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().String("lang", "", "Language hint (default OCR_DEFAULT_LANG)")
	ocrCmd.Flags().Duration("timeout", 2*time.Minute, "Processing timeout")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	outputPath, _ := cmd.Flags().GetString("output")
	showBlocks, _ := cmd.Flags().GetBool("blocks")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	lang, _ := cmd.Flags().GetString("lang")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if lang == "" {
		lang = cfg.OCRDefaultLang
	}

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("output", outputPath).
		Str("provider", cfg.OCRProvider).
		Str("lang", lang).
		Msg("Starting OCR processing")

	if cfg.OCRProvider == ocr.ProviderNone {
		return fmt.Errorf("text extraction is disabled. Set OCR_PROVIDER to %s or %s",
			ocr.ProviderGoogleVision, ocr.ProviderDocumentAI)
	}

	loader := imageLoader{maxSize: cfg.MaxFileSize, allowed: cfg.AllowedContentTypes}
	data, err := loader.load(imagePath)
	if err != nil {
		return err
	}

	processed, err := imaging.NewProcessor(cfg.ImagingOptions()).Process(data)
	if err != nil {
		return handleExtractError(err, log)
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	extractor, err := ocr.New(ctx, cfg.OCROptions())
	if err != nil {
		return handleOCRError(err, log)
	}
	defer func() {
		if closeErr := extractor.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close OCR backend")
		}
	}()

	start := time.Now()
	result := extractor.Extract(ctx, processed.Gray, lang)
	duration := time.Since(start)

	if err := ctx.Err(); err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Int("blocks", len(result.Blocks)).
		Int("text_length", len(result.Text)).
		Dur("duration", duration).
		Msg("OCR processing completed")

	if result.Text == "" {
		stderrLine("No text recognized in %s", imagePath)
	}

	var out []byte
	if jsonOutput {
		b := processed.Gray.Bounds()
		out, err = json.MarshalIndent(OCROutput{
			FileName:           filepath.Base(imagePath),
			FileSize:           len(data),
			Provider:           extractor.Name(),
			Width:              b.Dx(),
			Height:             b.Dy(),
			Text:               result.Text,
			Blocks:             result.Blocks,
			ProcessedAt:        time.Now(),
			ProcessingDuration: duration.String(),
		}, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		out = append(out, '\n')
	} else {
		out = []byte(formatOCRText(result, showBlocks))
	}

	return writeOutput(out, outputPath, log)
}

func formatOCRText(result ocr.TextResult, showBlocks bool) string {
	if !showBlocks {
		if result.Text == "" {
			return ""
		}
		return result.Text + "\n"
	}

	var b strings.Builder
	for i, block := range result.Blocks {
		fmt.Fprintf(&b, "[%d] %-6s %.2f  %s\n", i+1, block.Position, block.Conf, block.Text)
	}
	return b.String()
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
			"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
			"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
			"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
			"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
			"3. Check that your .env file contains the credentials variables")
	case errors.Is(err, ocr.ErrInvalidConfiguration):
		return fmt.Errorf("OCR backend misconfigured. Document AI needs GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID: %w", err)
	case errors.Is(err, ocr.ErrUnknownProvider):
		return fmt.Errorf("unknown OCR_PROVIDER. Use %s, %s or %s: %w",
			ocr.ProviderNone, ocr.ProviderGoogleVision, ocr.ProviderDocumentAI, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Ensure the service account has the Cloud Vision or Document AI user role")
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

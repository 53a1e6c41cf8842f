package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/ocr"
	"eventposter/internal/sheets"
	"eventposter/pkg/models"
	"eventposter/pkg/services"
)

// sheetFromConfig is the --sheet value used when the flag is given without a
// URL; it selects GOOGLE_SHEET_URL.
const sheetFromConfig = "env"

var (
	errUnsupportedType = errors.New("unsupported file type")
	errFileTooLarge    = errors.New("file too large")
	errEmptyFile       = errors.New("file is empty")
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var extractCmd = &cobra.Command{
	Use:   "extract [image|directory]...",
	Short: "Extract event details from poster images",
	Long: `Run the extraction pipeline on one or more poster images.

Directories are expanded to the JPEG, PNG and WebP files they contain
(non-recursive). Several files are processed in parallel and reported in the
order they were given.

A single file prints a summary (or the full envelope with --json). Several
files print one summary per file, or a JSON array with --json.

With --sheet, one row per file is appended to a Google Sheet. The sheet must be
shared with the service account from GOOGLE_APPLICATION_CREDENTIALS or
GOOGLE_CREDENTIALS.`,
	Example: `  # Extract one poster
  eventposter extract poster.jpg

  # Full JSON envelope, forcing the vision route
  eventposter extract poster.jpg --json --route vision

  # A folder of posters with 8 workers, appended to GOOGLE_SHEET_URL
  eventposter extract ./posters --workers 8 --sheet

  # Show the routing decision without calling any provider
  eventposter extract ./posters --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

// fileOutcome is the result of processing one input file.
type fileOutcome struct {
	File   string                   `json:"file"`
	Result *models.ExtractionResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
	Error  string                   `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("lang", "", "OCR language hint (default OCR_DEFAULT_LANG)")
	extractCmd.Flags().String("timezone", "UTC", "Timezone for interpreting dates and times")
	extractCmd.Flags().String("route", "", "Force a route: ocr_first or vision")
	extractCmd.Flags().String("provider", "", "LLM provider override: mock, gemini or openai")
	extractCmd.Flags().Bool("json", false, "Output as JSON")
	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Duration("timeout", 5*time.Minute, "Overall processing timeout")
	extractCmd.Flags().Int("workers", 0, "Parallel workers (default BATCH_WORKERS)")
	extractCmd.Flags().String("sheet", "", "Append rows to this Google Sheet URL (--sheet alone uses GOOGLE_SHEET_URL)")
	extractCmd.Flags().Lookup("sheet").NoOptDefVal = sheetFromConfig
	extractCmd.Flags().String("worksheet", "", "Worksheet name (default GOOGLE_SHEET_WORKSHEET)")
	extractCmd.Flags().Bool("dry-run", false, "Score and route images without calling any provider")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	lang, _ := cmd.Flags().GetString("lang")
	timezone, _ := cmd.Flags().GetString("timezone")
	route, _ := cmd.Flags().GetString("route")
	provider, _ := cmd.Flags().GetString("provider")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	workers, _ := cmd.Flags().GetInt("workers")
	sheetURL, _ := cmd.Flags().GetString("sheet")
	worksheet, _ := cmd.Flags().GetString("worksheet")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if lang == "" {
		lang = cfg.OCRDefaultLang
	}
	if workers <= 0 {
		workers = cfg.BatchWorkers
	}
	if worksheet == "" {
		worksheet = cfg.GoogleSheetWorksheet
	}
	if sheetURL == sheetFromConfig {
		if cfg.GoogleSheetURL == "" {
			return fmt.Errorf("--sheet given without a URL but GOOGLE_SHEET_URL is not set")
		}
		sheetURL = cfg.GoogleSheetURL
	}

	files, err := collectImages(args)
	if err != nil {
		return err
	}

	log.Info().
		Int("files", len(files)).
		Str("route", route).
		Str("provider", provider).
		Int("workers", workers).
		Bool("dry_run", dryRun).
		Msg("Starting extraction")

	if dryRun {
		return runScore(files, cfg, jsonOutput, outputPath, log)
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	orch, closePorts, err := buildPipeline(ctx, cfg, provider, log)
	if err != nil {
		return handleExtractError(err, log)
	}
	defer closePorts()

	if _, err := orch.Router().ParseOverride(route); err != nil {
		return handleExtractError(err, log)
	}

	params := services.ExtractionParams{Lang: lang, Timezone: timezone, ForceRoute: route}
	loader := imageLoader{maxSize: cfg.MaxFileSize, allowed: cfg.AllowedContentTypes}

	start := time.Now()
	outcomes := processFiles(ctx, orch, loader, files, params, workers)
	log.Info().
		Int("files", len(files)).
		Int("failed", countFailed(outcomes)).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")

	if err := ctx.Err(); err != nil {
		return handleExtractError(err, log)
	}

	if sheetURL != "" {
		if err := exportToSheet(ctx, sheetURL, worksheet, outcomes); err != nil {
			return handleExtractError(err, log)
		}
	}

	data, err := renderOutcomes(outcomes, jsonOutput)
	if err != nil {
		return err
	}
	if err := writeOutput(data, outputPath, log); err != nil {
		return err
	}

	if len(outcomes) == 1 && outcomes[0].Err != nil {
		return handleExtractError(outcomes[0].Err, log)
	}
	return nil
}

// collectImages expands directories to the image files they contain. Files
// named explicitly are kept whatever their extension.
func collectImages(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("file not found: %s", arg)
			}
			return nil, fmt.Errorf("error accessing %s: %w", arg, err)
		}

		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found (supported: %s)", strings.Join(imageExtensions, ", "))
	}
	return files, nil
}

// imageLoader reads a poster from disk and checks its size and sniffed type.
type imageLoader struct {
	maxSize int64
	allowed []string
}

func (l imageLoader) load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", errEmptyFile, path)
	}
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, maximum is %d", errFileTooLarge, path, len(data), l.maxSize)
	}

	if len(l.allowed) > 0 {
		mt := mimetype.Detect(data)
		if !slices.ContainsFunc(l.allowed, mt.Is) {
			return nil, fmt.Errorf("%w: %s is %s (allowed: %s)", errUnsupportedType, path, mt.String(), strings.Join(l.allowed, ", "))
		}
	}
	return data, nil
}

// processFiles runs svc on every file with at most workers in flight. The
// outcomes are in the order of files.
func processFiles(ctx context.Context, svc services.ExtractionService, loader imageLoader, files []string, params services.ExtractionParams, workers int) []fileOutcome {
	outcomes := make([]fileOutcome, len(files))

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i, file := range files {
		g.Go(func() error {
			outcomes[i] = processFile(ctx, svc, loader, file, params)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func processFile(ctx context.Context, svc services.ExtractionService, loader imageLoader, file string, params services.ExtractionParams) fileOutcome {
	log := logger.WithComponent("extract").With().Str("file", file).Logger()
	out := fileOutcome{File: file}

	if err := ctx.Err(); err != nil {
		out.Err = err
		out.Error = err.Error()
		return out
	}

	data, err := loader.load(file)
	if err == nil {
		var result models.ExtractionResult
		result, err = svc.Extract(ctx, data, params)
		if err == nil {
			out.Result = &result
			log.Debug().
				Str("route", string(result.Route)).
				Float64("confidence", result.Confidence).
				Msg("File processed")
			return out
		}
	}

	log.Warn().Err(err).Msg("File failed")
	out.Err = err
	out.Error = err.Error()
	return out
}

func countFailed(outcomes []fileOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil || (o.Result != nil && o.Result.Error != "") {
			n++
		}
	}
	return n
}

func exportToSheet(ctx context.Context, sheetURL, worksheet string, outcomes []fileOutcome) error {
	sheet, err := sheets.NewEventSheet(ctx, sheetURL)
	if err != nil {
		return err
	}

	rows := make([]sheets.Row, len(outcomes))
	for i, o := range outcomes {
		var result models.ExtractionResult
		if o.Result != nil {
			result = *o.Result
		}
		rows[i] = sheets.RowFromResult(filepath.Base(o.File), result, o.Err)
	}
	return sheet.AppendResults(ctx, rows, worksheet)
}

// renderOutcomes formats outcomes as JSON or as human readable summaries. A
// single successful file renders as its bare envelope in JSON mode.
func renderOutcomes(outcomes []fileOutcome, jsonOutput bool) ([]byte, error) {
	if jsonOutput {
		var (
			data []byte
			err  error
		)
		if len(outcomes) == 1 && outcomes[0].Result != nil {
			data, err = json.MarshalIndent(outcomes[0].Result, "", "  ")
		} else {
			data, err = json.MarshalIndent(outcomes, "", "  ")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create JSON output: %w", err)
		}
		return append(data, '\n'), nil
	}

	var b strings.Builder
	for i, o := range outcomes {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(formatSummary(o))
	}
	return []byte(b.String()), nil
}

// formatSummary renders one outcome for the terminal.
func formatSummary(o fileOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", o.File)

	if o.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", o.Err)
		return b.String()
	}

	r := o.Result
	fmt.Fprintf(&b, "Route: %s\n", r.Route)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", r.Confidence*100)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}

	names := make([]string, 0, len(r.Fields))
	for _, name := range models.CoreFields {
		if f, ok := r.Fields[name]; ok && models.HasValue(f.Value) {
			names = append(names, name)
		}
	}
	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	if len(names) > 0 {
		b.WriteString("\nFields:\n")
	}
	for _, name := range names {
		f := r.Fields[name]
		fmt.Fprintf(&b, "  %-*s  %v (%.2f)\n", width, name, f.Value, f.Confidence)
	}

	if len(r.Extra) > 0 {
		b.WriteString("\nExtra:\n")
		for _, e := range r.Extra {
			fmt.Fprintf(&b, "  %s: %v (%.2f)\n", e.Key, e.Value, e.Confidence)
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w.Message)
		}
	}
	return b.String()
}

// handleExtractError provides user-friendly error messages for extraction failures.
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout or processing fewer files")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	case errors.Is(err, complexity.ErrInvalidRoute):
		return fmt.Errorf("invalid --route: %w", err)
	case errors.Is(err, imaging.ErrDecode):
		return fmt.Errorf("not a readable JPEG, PNG or WebP image: %w", err)
	case errors.Is(err, errUnsupportedType), errors.Is(err, errFileTooLarge), errors.Is(err, errEmptyFile):
		return err
	case errors.Is(err, llm.ErrMissingAPIKey):
		return fmt.Errorf("no API key for the selected LLM provider. Set LLM_API_KEY (or GEMINI_API_KEY / OPENAI_API_KEY): %w", err)
	case errors.Is(err, llm.ErrUnknownProvider):
		return fmt.Errorf("unknown --provider. Use mock, gemini or openai: %w", err)
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured for OCR_PROVIDER. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %w", err)
	case errors.Is(err, ocr.ErrInvalidConfiguration), errors.Is(err, ocr.ErrUnknownProvider):
		return fmt.Errorf("OCR backend misconfigured: %w", err)
	default:
		return fmt.Errorf("extraction failed: %w", err)
	}
}

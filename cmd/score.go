package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"eventposter/internal/complexity"
	"eventposter/internal/config"
	"eventposter/internal/imaging"
	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

var scoreCmd = &cobra.Command{
	Use:   "score [image]...",
	Short: "Score poster complexity and show the chosen route",
	Long: `Normalize each image and compute its blur variance, edge density, text
density and overall complexity, then print the route the pipeline would take.
No OCR or LLM provider is called.`,
	Example: `  eventposter score poster.jpg
  eventposter score ./posters --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("score")

		cfg, err := requireConfig()
		if err != nil {
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		outputPath, _ := cmd.Flags().GetString("output")

		files, err := collectImages(args)
		if err != nil {
			return err
		}
		return runScore(files, cfg, jsonOutput, outputPath, log)
	},
}

// scoreOutcome is the routing decision for one file.
type scoreOutcome struct {
	File   string                  `json:"file"`
	Width  int                     `json:"width,omitempty"`
	Height int                     `json:"height,omitempty"`
	Score  *models.ComplexityScore `json:"complexity_score,omitempty"`
	Route  models.Route            `json:"route,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().Bool("json", false, "Output as JSON")
	scoreCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
}

// router computes the route for raw image bytes without calling any port.
type router struct {
	loader    imageLoader
	processor *imaging.Processor
	scorer    *complexity.Scorer
	decider   *complexity.RouteDecider
}

func newRouter(cfg *config.Config) router {
	return router{
		loader:    imageLoader{maxSize: cfg.MaxFileSize, allowed: cfg.AllowedContentTypes},
		processor: imaging.NewProcessor(cfg.ImagingOptions()),
		scorer:    complexity.NewScorer(cfg.ScorerOptions()),
		decider:   complexity.NewRouteDecider(cfg.RouteOptions()),
	}
}

func (r router) score(file string) scoreOutcome {
	out := scoreOutcome{File: file}

	data, err := r.loader.load(file)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	processed, err := r.processor.Process(data)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	score := r.scorer.Calculate(processed.Gray)
	out.Width = processed.Color.Bounds().Dx()
	out.Height = processed.Color.Bounds().Dy()
	out.Score = &score
	out.Route = r.decider.Decide(score)
	return out
}

func runScore(files []string, cfg *config.Config, jsonOutput bool, outputPath string, log zerolog.Logger) error {
	r := newRouter(cfg)

	outcomes := make([]scoreOutcome, len(files))
	failed := 0
	for i, file := range files {
		outcomes[i] = r.score(file)
		if outcomes[i].Error != "" {
			failed++
			log.Warn().Str("file", file).Str("error", outcomes[i].Error).Msg("Scoring failed")
		}
	}

	var data []byte
	if jsonOutput {
		var err error
		data, err = json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		data = append(data, '\n')
	} else {
		var b strings.Builder
		for _, o := range outcomes {
			b.WriteString(formatScore(o))
		}
		data = []byte(b.String())
	}

	if err := writeOutput(data, outputPath, log); err != nil {
		return err
	}
	if failed == len(files) {
		return fmt.Errorf("no image could be scored")
	}
	return nil
}

func formatScore(o scoreOutcome) string {
	if o.Error != "" {
		return fmt.Sprintf("%s: error: %s\n", o.File, o.Error)
	}
	s := o.Score
	blur := "sharp"
	if s.IsBlurry {
		blur = "blurry"
	}
	return fmt.Sprintf("%s: route=%s %dx%d blur=%.1f (%s) edges=%.3f text=%.3f complexity=%.3f\n",
		o.File, o.Route, o.Width, o.Height, s.BlurVariance, blur, s.EdgeDensity, s.TextDensity, s.OverallComplexity)
}

// stderrLine prints a diagnostic line that should not mix with command output.
func stderrLine(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

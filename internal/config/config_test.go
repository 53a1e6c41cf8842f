package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventposter/internal/llm"
	"eventposter/pkg/models"
)

var managedEnv = []string{
	"LLM_PROVIDER", "LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "LLM_MODEL",
	"OCR_PROVIDER", "GOOGLE_CLOUD_PROJECT", "DOCUMENT_AI_PROCESSOR_ID",
	"ALLOWED_ROUTES", "EDGE_WEIGHT", "WARN_CONFIDENCE", "MIN_SUFFICIENT_CONFIDENCE",
	"CORS_ORIGINS", "MAX_FILE_SIZE", "BATCH_WORKERS", "LOG_COMPRESS", "LLM_MAX_RETRIES",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLMProvider)
	assert.Equal(t, "none", cfg.OCRProvider)
	assert.Equal(t, "/api/v1", cfg.APIV1Prefix)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3001"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"ocr_first", "vision"}, cfg.AllowedRoutes)
	assert.Equal(t, 1, cfg.LLMMaxRetries)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, "Events", cfg.GoogleSheetWorksheet)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 2000, pc.Imaging.MaxDimension)
	assert.Equal(t, 100.0, pc.Scorer.BlurThreshold)
	assert.Equal(t, 0.7, pc.Route.ComplexityThreshold)
	assert.Equal(t, []models.Route{models.RouteOCRFirst, models.RouteVision}, pc.Route.AllowedOverrides)
	assert.Equal(t, 0.5, pc.Validator.MinSufficientConfidence)
	assert.Equal(t, 0.6, pc.Validator.WarnConfidence)

	lc := cfg.GetLoggerConfig()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, 100, lc.MaxSizeMB)
	assert.False(t, lc.Compress)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("CORS_ORIGINS", " https://a.example , https://b.example ,")
	t.Setenv("ALLOWED_ROUTES", "vision")
	t.Setenv("BATCH_WORKERS", "not-a-number")
	t.Setenv("LOG_COMPRESS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, "g-key", cfg.LLMAPIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, []models.Route{models.RouteVision}, cfg.RouteOptions().AllowedOverrides)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.True(t, cfg.LogCompress)

	opts := cfg.LLMOptions()
	assert.Equal(t, llm.ProviderGemini, opts.Provider)
	assert.InDelta(t, 0.1, float64(opts.Temperature), 1e-6)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown llm provider", map[string]string{"LLM_PROVIDER": "claude"}, "LLM_PROVIDER must be one of"},
		{"real provider without key", map[string]string{"LLM_PROVIDER": "openai"}, "LLM_API_KEY is required"},
		{"unknown ocr provider", map[string]string{"OCR_PROVIDER": "tesseract"}, "OCR_PROVIDER must be one of"},
		{"document ai without project", map[string]string{"OCR_PROVIDER": "documentai"}, "GOOGLE_CLOUD_PROJECT is required"},
		{"document ai without processor", map[string]string{"OCR_PROVIDER": "documentai", "GOOGLE_CLOUD_PROJECT": "p"}, "DOCUMENT_AI_PROCESSOR_ID is required"},
		{"unknown route", map[string]string{"ALLOWED_ROUTES": "ocr_first,fast"}, `unknown route "fast"`},
		{"weight out of range", map[string]string{"EDGE_WEIGHT": "1.5"}, "EDGE_WEIGHT must be between 0 and 1"},
		{"negative retries", map[string]string{"LLM_MAX_RETRIES": "-1"}, "LLM_MAX_RETRIES"},
		{"zero workers", map[string]string{"BATCH_WORKERS": "0"}, "BATCH_WORKERS must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLLMOptionsFor(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("LLM_MODEL", "custom-model")

	cfg, err := Load()
	require.NoError(t, err)

	same := cfg.LLMOptionsFor("", "")
	assert.Equal(t, llm.ProviderMock, same.Provider)
	assert.Equal(t, "custom-model", same.Model)

	switched := cfg.LLMOptionsFor("OpenAI", "")
	assert.Equal(t, llm.ProviderOpenAI, switched.Provider)
	assert.Equal(t, "o-key", switched.APIKey)
	assert.Empty(t, switched.Model)

	keyed := cfg.LLMOptionsFor("gemini", "request-key")
	assert.Equal(t, "request-key", keyed.APIKey)
}

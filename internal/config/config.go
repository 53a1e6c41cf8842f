package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/ocr"
	"eventposter/internal/pipeline"
	"eventposter/internal/postprocess"
	"eventposter/pkg/models"
)

type Config struct {
	// API Configuration
	ProjectName         string
	APIV1Prefix         string
	HTTPAddr            string
	CORSOrigins         []string
	MaxFileSize         int64
	AllowedContentTypes []string

	// LLM Configuration
	LLMProvider    string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMMaxRetries  int

	// OCR Configuration
	OCRProvider           string
	OCRDefaultLang        string
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Image Processing Configuration
	MaxImageDimension int
	ClaheClipLimit    float64
	ClaheTileSize     int

	// Routing Configuration
	BlurThreshold        float64
	EdgeWeight           float64
	TextWeight           float64
	ComplexityThreshold  float64
	TextDensityThreshold float64
	AllowedRoutes        []string

	// Validation Configuration
	MinSufficientConfidence float64
	WarnConfidence          float64

	// Google Sheets Configuration
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Batch Configuration
	BatchWorkers int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", llm.ProviderMock))

	config := &Config{
		ProjectName:         getEnv("PROJECT_NAME", "Event Poster Extraction API"),
		APIV1Prefix:         getEnv("API_V1_PREFIX", "/api/v1"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8000"),
		CORSOrigins:         getEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
		MaxFileSize:         int64(getEnvInt("MAX_FILE_SIZE", 10*1024*1024)),
		AllowedContentTypes: getEnvList("ALLOWED_CONTENT_TYPES", []string{"image/jpeg", "image/png", "image/webp"}),

		LLMProvider:    provider,
		LLMAPIKey:      apiKeyFor(provider),
		LLMModel:       getEnv("LLM_MODEL", ""),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", llm.DefaultTemperature),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 1),

		OCRProvider:           strings.ToLower(getEnv("OCR_PROVIDER", ocr.ProviderNone)),
		OCRDefaultLang:        getEnv("OCR_DEFAULT_LANG", "en"),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),

		MaxImageDimension: getEnvInt("MAX_IMAGE_DIMENSION", imaging.DefaultMaxDimension),
		ClaheClipLimit:    getEnvFloat("CLAHE_CLIP_LIMIT", imaging.DefaultClaheClipLimit),
		ClaheTileSize:     getEnvInt("CLAHE_TILE_SIZE", imaging.DefaultClaheTileSize),

		BlurThreshold:        getEnvFloat("BLUR_THRESHOLD", complexity.DefaultBlurThreshold),
		EdgeWeight:           getEnvFloat("EDGE_WEIGHT", complexity.DefaultEdgeWeight),
		TextWeight:           getEnvFloat("TEXT_WEIGHT", complexity.DefaultTextWeight),
		ComplexityThreshold:  getEnvFloat("COMPLEXITY_THRESHOLD", complexity.DefaultComplexityThreshold),
		TextDensityThreshold: getEnvFloat("TEXT_DENSITY_THRESHOLD", complexity.DefaultTextDensityThreshold),
		AllowedRoutes:        getEnvList("ALLOWED_ROUTES", []string{string(models.RouteOCRFirst), string(models.RouteVision)}),

		MinSufficientConfidence: getEnvFloat("MIN_SUFFICIENT_CONFIDENCE", postprocess.DefaultMinSufficientConfidence),
		WarnConfidence:          getEnvFloat("WARN_CONFIDENCE", postprocess.DefaultWarnConfidence),

		GoogleSheetURL:       getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet: getEnv("GOOGLE_SHEET_WORKSHEET", "Events"),

		BatchWorkers: getEnvInt("BATCH_WORKERS", 4),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		LogCompress:   getEnvBool("LOG_COMPRESS", false),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case llm.ProviderMock:
	case llm.ProviderGemini, llm.ProviderOpenAI:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for LLM_PROVIDER=%s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of: %s, %s, %s", llm.ProviderMock, llm.ProviderGemini, llm.ProviderOpenAI)
	}

	switch c.OCRProvider {
	case ocr.ProviderNone, ocr.ProviderGoogleVision:
	case ocr.ProviderDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for OCR_PROVIDER=%s", c.OCRProvider)
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for OCR_PROVIDER=%s", c.OCRProvider)
		}
	default:
		return fmt.Errorf("OCR_PROVIDER must be one of: %s, %s, %s", ocr.ProviderNone, ocr.ProviderGoogleVision, ocr.ProviderDocumentAI)
	}

	for _, r := range c.AllowedRoutes {
		if r != string(models.RouteOCRFirst) && r != string(models.RouteVision) {
			return fmt.Errorf("ALLOWED_ROUTES contains unknown route %q", r)
		}
	}
	if len(c.AllowedRoutes) == 0 {
		return fmt.Errorf("ALLOWED_ROUTES must not be empty")
	}

	unit := map[string]float64{
		"EDGE_WEIGHT":               c.EdgeWeight,
		"TEXT_WEIGHT":               c.TextWeight,
		"COMPLEXITY_THRESHOLD":      c.ComplexityThreshold,
		"TEXT_DENSITY_THRESHOLD":    c.TextDensityThreshold,
		"MIN_SUFFICIENT_CONFIDENCE": c.MinSufficientConfidence,
		"WARN_CONFIDENCE":           c.WarnConfidence,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}

	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if c.BlurThreshold < 0 {
		return fmt.Errorf("BLUR_THRESHOLD must not be negative")
	}
	if c.MaxImageDimension <= 0 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be positive")
	}
	if c.ClaheClipLimit <= 0 || c.ClaheTileSize <= 0 {
		return fmt.Errorf("CLAHE_CLIP_LIMIT and CLAHE_TILE_SIZE must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
		Compress:   c.LogCompress,
	}
}

// ImagingOptions returns the image normalization settings.
func (c *Config) ImagingOptions() imaging.Options {
	return imaging.Options{
		MaxDimension:   c.MaxImageDimension,
		ClaheClipLimit: c.ClaheClipLimit,
		ClaheTileSize:  c.ClaheTileSize,
	}
}

// ScorerOptions returns the complexity scoring settings.
func (c *Config) ScorerOptions() complexity.Options {
	return complexity.Options{
		BlurThreshold: c.BlurThreshold,
		EdgeWeight:    c.EdgeWeight,
		TextWeight:    c.TextWeight,
	}
}

// RouteOptions returns the routing thresholds and allowed overrides.
func (c *Config) RouteOptions() complexity.RouteOptions {
	routes := make([]models.Route, len(c.AllowedRoutes))
	for i, r := range c.AllowedRoutes {
		routes[i] = models.Route(r)
	}
	return complexity.RouteOptions{
		ComplexityThreshold:  c.ComplexityThreshold,
		TextDensityThreshold: c.TextDensityThreshold,
		AllowedOverrides:     routes,
	}
}

// ValidatorOptions returns the confidence thresholds.
func (c *Config) ValidatorOptions() postprocess.ValidatorOptions {
	return postprocess.ValidatorOptions{
		MinSufficientConfidence: c.MinSufficientConfidence,
		WarnConfidence:          c.WarnConfidence,
	}
}

// PipelineConfig bundles the settings of every pipeline stage.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Imaging:   c.ImagingOptions(),
		Scorer:    c.ScorerOptions(),
		Route:     c.RouteOptions(),
		Validator: c.ValidatorOptions(),
	}
}

// LLMOptions returns the field extraction provider settings.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Provider:    c.LLMProvider,
		APIKey:      c.LLMAPIKey,
		Model:       c.LLMModel,
		Temperature: float32(c.LLMTemperature),
		MaxRetries:  c.LLMMaxRetries,
	}
}

// LLMOptionsFor returns LLMOptions with a per-request provider and key
// override. Empty arguments keep the configured values; a provider override
// without a key falls back to that provider's key from the environment.
func (c *Config) LLMOptionsFor(provider, apiKey string) llm.Options {
	opts := c.LLMOptions()
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != "" && provider != c.LLMProvider {
		opts.Provider = provider
		opts.Model = ""
		opts.APIKey = apiKeyFor(provider)
	}
	if apiKey != "" {
		opts.APIKey = apiKey
	}
	return opts
}

// OCROptions returns the text extraction backend settings.
func (c *Config) OCROptions() ocr.Options {
	return ocr.Options{
		Provider:    c.OCRProvider,
		ProjectID:   c.GoogleCloudProject,
		Location:    c.GoogleCloudLocation,
		ProcessorID: c.DocumentAIProcessorID,
	}
}

func apiKeyFor(provider string) string {
	if key := getEnv("LLM_API_KEY", ""); key != "" {
		return key
	}
	switch provider {
	case llm.ProviderGemini:
		return getEnv("GEMINI_API_KEY", "")
	case llm.ProviderOpenAI:
		return getEnv("OPENAI_API_KEY", "")
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

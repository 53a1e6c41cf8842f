// Package server exposes the extraction pipeline over HTTP.
//
// Routes:
//
//	GET  /                    service info
//	GET  /health              liveness and configured providers
//	GET  /metrics             Prometheus metrics
//	POST {prefix}/extract     multipart poster upload, returns the envelope
//
// Errors are JSON objects of the form {"detail": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/internal/llm"
	"eventposter/internal/logger"
	"eventposter/internal/metrics"
	"eventposter/internal/ocr"
	"eventposter/internal/pipeline"
	"eventposter/pkg/services"
)

// Version is reported by the info endpoint.
const Version = "1.0.0"

const (
	// multipartMemory is the part of an upload kept in memory before spilling to disk.
	multipartMemory = 32 << 20
	// formOverhead is the room left for multipart framing and text fields.
	formOverhead  = 1 << 20
	shutdownGrace = 10 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	ProjectName         string
	APIPrefix           string
	CORSOrigins         []string
	MaxFileSize         int64
	AllowedContentTypes []string
	DefaultLang         string
}

// ProviderFactory builds a field extractor for a per-request provider and
// API key override. Empty arguments mean "use the configured value".
type ProviderFactory func(ctx context.Context, provider, apiKey string) (llm.FieldExtractor, error)

// Server serves the extraction API.
type Server struct {
	opts      Options
	pipeline  *pipeline.Orchestrator
	providers ProviderFactory
	handler   http.Handler
	log       zerolog.Logger
}

// New creates a Server around p. providers may be nil, in which case
// provider and api_key form fields are ignored.
func New(p *pipeline.Orchestrator, providers ProviderFactory, opts Options) *Server {
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}
	opts.APIPrefix = "/" + strings.Trim(opts.APIPrefix, "/")
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 * 1024 * 1024
	}
	if len(opts.AllowedContentTypes) == 0 {
		opts.AllowedContentTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}
	if opts.DefaultLang == "" {
		opts.DefaultLang = services.DefaultExtractionParams().Lang
	}
	if opts.ProjectName == "" {
		opts.ProjectName = "Event Poster Extraction API"
	}

	s := &Server{
		opts:      opts,
		pipeline:  p,
		providers: providers,
		log:       logger.WithComponent("server"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST "+s.opts.APIPrefix+"/extract", s.handleExtract)

	return requestID(accessLog(recoverer(cors(s.opts.CORSOrigins, mux))))
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully, waiting for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	const op = "ListenAndServe"

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", addr).
			Str("llm_provider", s.pipeline.FieldExtractorName()).
			Str("ocr_provider", s.pipeline.TextExtractorName()).
			Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": s.opts.ProjectName,
		"version": Version,
		"endpoints": map[string]string{
			"extract": "POST " + s.opts.APIPrefix + "/extract",
			"health":  "GET /health",
			"metrics": "GET /metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"llm_provider": s.pipeline.FieldExtractorName(),
		"ocr_enabled":  s.pipeline.TextExtractorName() != ocr.ProviderNone,
	})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), "server")

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, s.tooLargeMessage())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	router := s.pipeline.Router()
	forceRoute := strings.TrimSpace(r.FormValue("force_route"))
	if forceRoute != "" {
		if _, err := router.ParseOverride(forceRoute); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid force_route. Must be one of: "+router.AllowedList())
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded. Send the poster in the \"file\" form field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxFileSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	if int64(len(data)) > s.opts.MaxFileSize {
		writeError(w, http.StatusBadRequest, s.tooLargeMessage())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Empty file")
		return
	}

	contentType, ok := s.contentType(data, header.Header.Get("Content-Type"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid file type: %s. Allowed: %s",
			contentType, strings.Join(s.opts.AllowedContentTypes, ", ")))
		return
	}

	params := services.ExtractionParams{
		Lang:       strings.TrimSpace(r.FormValue("lang")),
		Timezone:   strings.TrimSpace(r.FormValue("timezone")),
		ForceRoute: forceRoute,
	}
	if params.Lang == "" {
		params.Lang = s.opts.DefaultLang
	}

	orch := s.pipeline
	provider := strings.TrimSpace(r.FormValue("provider"))
	apiKey := strings.TrimSpace(r.FormValue("api_key"))
	if s.providers != nil && (provider != "" || apiKey != "") {
		fields, err := s.providers(r.Context(), provider, apiKey)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider).Msg("Per-request provider rejected")
			status := http.StatusInternalServerError
			if errors.Is(err, llm.ErrUnknownProvider) || errors.Is(err, llm.ErrMissingAPIKey) {
				status = http.StatusBadRequest
			}
			writeError(w, status, "Failed to initialize LLM provider: "+err.Error())
			return
		}
		defer func() {
			if err := fields.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close per-request provider")
			}
		}()
		orch = orch.WithFieldExtractor(fields)
	}

	log.Info().
		Str("file", header.Filename).
		Str("content_type", contentType).
		Int("size", len(data)).
		Str("force_route", forceRoute).
		Msg("Extraction request")

	result, err := orch.Process(r.Context(), data, params)
	if err != nil {
		switch {
		case errors.Is(err, imaging.ErrDecode):
			writeError(w, http.StatusBadRequest, "Invalid image: "+err.Error())
		case errors.Is(err, complexity.ErrInvalidRoute):
			writeError(w, http.StatusBadRequest, "Invalid force_route. Must be one of: "+router.AllowedList())
		default:
			log.Error().Err(err).Msg("Extraction failed")
			writeError(w, http.StatusInternalServerError, "Extraction failed: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// contentType reports the upload's MIME type and whether it is allowed. The
// sniffed type wins; the declared part header is the fallback.
func (s *Server) contentType(data []byte, declared string) (string, bool) {
	detected := mimetype.Detect(data)
	for _, allowed := range s.opts.AllowedContentTypes {
		if detected.Is(allowed) {
			return allowed, true
		}
	}

	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared != "" && slices.Contains(s.opts.AllowedContentTypes, declared) {
		return declared, true
	}
	return detected.String(), false
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("File too large. Maximum size: %dMB", s.opts.MaxFileSize/(1024*1024))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

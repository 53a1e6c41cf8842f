package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventposter/internal/llm"
	"eventposter/internal/metrics"
	"eventposter/internal/ocr"
	"eventposter/internal/pipeline"
)

const testMaxFileSize = 2 << 20

func posterPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, providers ProviderFactory) *Server {
	t.Helper()
	p := pipeline.New(ocr.NoopTextExtractor{}, llm.NewMockExtractor(0), pipeline.DefaultConfig())
	return New(p, providers, Options{
		APIPrefix:   "/api/v1",
		CORSOrigins: []string{"http://localhost:3000"},
		MaxFileSize: testMaxFileSize,
	})
}

type upload struct {
	fields      map[string]string
	filename    string
	data        []byte
	contentType string
	noFile      bool
}

func extractRequest(t *testing.T, u upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if !u.noFile {
		if u.filename == "" {
			u.filename = "poster.png"
		}
		if u.contentType == "" {
			u.contentType = "image/png"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, u.filename))
		h.Set("Content-Type", u.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestExtractReturnsEnvelope(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, extractRequest(t, upload{
		data:   posterPNG(t),
		fields: map[string]string{"force_route": "vision", "timezone": "Europe/Berlin"},
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var result struct {
		Type   string `json:"type"`
		Route  string `json:"route"`
		Fields map[string]struct {
			Value any `json:"value"`
		} `json:"fields"`
		Extra    []any `json:"extra"`
		Warnings []any `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "vision", result.Route)
	assert.Equal(t, "Mock Tech Conference 2026", result.Fields["event_name"].Value)
	assert.Len(t, result.Extra, 2)
	assert.NotNil(t, result.Warnings)
}

func TestExtractRejectsBadRequests(t *testing.T) {
	tooLarge := make([]byte, testMaxFileSize+1)

	tests := []struct {
		name       string
		upload     upload
		wantDetail string
	}{
		{
			name:       "unknown route",
			upload:     upload{data: []byte("x"), fields: map[string]string{"force_route": "fast"}},
			wantDetail: "Invalid force_route. Must be one of: ocr_first, vision",
		},
		{
			name:       "missing file",
			upload:     upload{noFile: true},
			wantDetail: "No file uploaded",
		},
		{
			name:       "empty file",
			upload:     upload{data: []byte{}},
			wantDetail: "Empty file",
		},
		{
			name:       "file too large",
			upload:     upload{data: tooLarge},
			wantDetail: "File too large. Maximum size: 2MB",
		},
		{
			name:       "disallowed content type",
			upload:     upload{data: []byte("just some notes"), contentType: "text/plain"},
			wantDetail: "Invalid file type: text/plain",
		},
		{
			name:       "declared image that does not decode",
			upload:     upload{data: []byte("not really a png"), contentType: "image/png"},
			wantDetail: "Invalid image: ",
		},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, extractRequest(t, tt.upload))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.True(t, strings.HasPrefix(detail(t, rec), tt.wantDetail), detail(t, rec))
		})
	}
}

type closingExtractor struct {
	*llm.MockExtractor
	closed atomic.Bool
}

func (c *closingExtractor) Name() string { return "stub" }

func (c *closingExtractor) Close() error {
	c.closed.Store(true)
	return nil
}

func TestExtractPerRequestProvider(t *testing.T) {
	t.Run("override is used and closed", func(t *testing.T) {
		stub := &closingExtractor{MockExtractor: llm.NewMockExtractor(0)}
		var gotProvider, gotKey string
		s := newTestServer(t, func(_ context.Context, provider, apiKey string) (llm.FieldExtractor, error) {
			gotProvider, gotKey = provider, apiKey
			return stub, nil
		})

		rec := serve(s, extractRequest(t, upload{
			data:   posterPNG(t),
			fields: map[string]string{"force_route": "vision", "provider": "gemini", "api_key": "k-123"},
		}))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "gemini", gotProvider)
		assert.Equal(t, "k-123", gotKey)
		assert.True(t, stub.closed.Load())
	})

	t.Run("factory not called without override", func(t *testing.T) {
		called := false
		s := newTestServer(t, func(context.Context, string, string) (llm.FieldExtractor, error) {
			called = true
			return nil, errors.New("unexpected")
		})

		rec := serve(s, extractRequest(t, upload{data: posterPNG(t), fields: map[string]string{"force_route": "vision"}}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, called)
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown provider", fmt.Errorf("%w: %q", llm.ErrUnknownProvider, "claude"), http.StatusBadRequest},
		{"missing key", &llm.ProviderError{Provider: "openai", Op: "New", Err: llm.ErrMissingAPIKey}, http.StatusBadRequest},
		{"client failure", errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(context.Context, string, string) (llm.FieldExtractor, error) {
				return nil, tt.err
			})

			rec := serve(s, extractRequest(t, upload{data: posterPNG(t), fields: map[string]string{"provider": "claude"}}))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, detail(t, rec), "Failed to initialize LLM provider")
		})
	}
}

func TestExtractRequiresPost(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/extract", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","llm_provider":"mock","ocr_enabled":false}`, rec.Body.String())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Event Poster Extraction API", info["message"])
	assert.Equal(t, Version, info["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Init()
	s := newTestServer(t, nil)

	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eventposter_http_request_duration_seconds")
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")

	rec := serve(s, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/extract", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		return serve(s, req)
	}

	rec := preflight("http://localhost:3000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovererReturnsJSON(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", detail(t, rec))
}

func TestRouteLabel(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	assert.Equal(t, "unmatched", routeLabel(r))

	r.Pattern = "POST /api/v1/extract"
	assert.Equal(t, "/api/v1/extract", routeLabel(r))
}

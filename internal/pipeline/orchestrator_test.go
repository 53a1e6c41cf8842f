package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventposter/internal/complexity"
	"eventposter/internal/imaging"
	"eventposter/internal/llm"
	"eventposter/internal/ocr"
	"eventposter/internal/postprocess"
	"eventposter/pkg/models"
)

// stubText is a text extraction port returning a fixed result.
type stubText struct {
	result ocr.TextResult
	panics bool
	calls  atomic.Int32
}

func (s *stubText) Extract(context.Context, *image.Gray, string) ocr.TextResult {
	s.calls.Add(1)
	if s.panics {
		panic("ocr engine crashed")
	}
	return s.result
}

func (s *stubText) Name() string { return "stub-ocr" }
func (s *stubText) Close() error { return nil }

// stubFields is a field extraction port with canned answers per method.
type stubFields struct {
	text        models.Result[models.Extraction]
	image       models.Result[models.Extraction]
	panicOnText bool

	textCalls  atomic.Int32
	imageCalls atomic.Int32

	mu        sync.Mutex
	gotText   string
	gotBlocks []models.LayoutBlock
	gotImage  []byte
	gotTZ     string
}

func (s *stubFields) Name() string { return "stub-llm" }
func (s *stubFields) Close() error { return nil }

func (s *stubFields) TextToJSON(_ context.Context, text string, blocks []models.LayoutBlock, tz string) models.Result[models.Extraction] {
	s.textCalls.Add(1)
	s.mu.Lock()
	s.gotText, s.gotBlocks, s.gotTZ = text, blocks, tz
	s.mu.Unlock()
	if s.panicOnText {
		panic("provider sdk bug")
	}
	return s.text
}

func (s *stubFields) ImageToJSON(_ context.Context, img []byte, tz string) models.Result[models.Extraction] {
	s.imageCalls.Add(1)
	s.mu.Lock()
	s.gotImage, s.gotTZ = img, tz
	s.mu.Unlock()
	return s.image
}

// fixedScorer reports the same score for every image.
type fixedScorer models.ComplexityScore

func (f fixedScorer) Calculate(*image.Gray) models.ComplexityScore {
	return models.ComplexityScore(f)
}

var (
	sharpDense  = fixedScorer{BlurVariance: 850, EdgeDensity: 0.1, TextDensity: 0.8, OverallComplexity: 0.52}
	blurryDense = fixedScorer{BlurVariance: 12, EdgeDensity: 0.02, TextDensity: 0.9, OverallComplexity: 0.55, IsBlurry: true}
)

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uniformPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	return pngBytes(t, img)
}

func checkerPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return pngBytes(t, img)
}

func extraction(conf float64, names ...string) models.Extraction {
	values := map[string]string{
		models.FieldEventName:    "Harbor Jazz Night",
		models.FieldDate:         "2026-11-20",
		models.FieldVenueName:    "Pier 7",
		models.FieldTime:         "8pm",
		models.FieldContactPhone: "555 010 0199",
	}
	out := models.Extraction{Fields: map[string]models.FieldEntry{}, Extra: []models.ExtraField{}}
	for i, n := range names {
		out.Fields[n] = models.FieldEntry{Value: values[n], Confidence: conf, Source: "line " + string(rune('1'+i))}
	}
	return out
}

func ocrText() ocr.TextResult {
	return ocr.TextResult{
		Text: "HARBOR JAZZ NIGHT\nPier 7",
		Blocks: []models.LayoutBlock{
			{Text: "HARBOR JAZZ NIGHT", BBox: [4]models.Point{{10, 10}, {200, 10}, {200, 40}, {10, 40}}, Conf: 0.97, Position: models.PositionTop},
			{Text: "Pier 7", BBox: [4]models.Point{{10, 300}, {80, 300}, {80, 320}, {10, 320}}, Conf: 0.91, Position: models.PositionBottom},
		},
	}
}

func newTestOrchestrator(text ocr.TextExtractor, fields llm.FieldExtractor, s scorer) *Orchestrator {
	o := New(text, fields, DefaultConfig())
	if s != nil {
		o.scorer = s
	}
	o.normalizer = postprocess.NewNormalizerWithClock(func() time.Time {
		return time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	})
	return o
}

func TestSharpDenseImageStaysOnTextRoute(t *testing.T) {
	text := &stubText{result: ocrText()}
	fields := &stubFields{
		text: models.Ok(extraction(0.9, models.FieldEventName, models.FieldDate, models.FieldVenueName, models.FieldContactPhone)),
	}
	o := newTestOrchestrator(text, fields, sharpDense)

	res, err := o.Process(context.Background(), checkerPNG(t), Params{Timezone: "Europe/Berlin"})
	require.NoError(t, err)

	assert.Equal(t, models.RouteOCRFirst, res.Route)
	assert.Equal(t, models.ResultType, res.Type)
	assert.Empty(t, res.Error)
	assert.EqualValues(t, 1, text.calls.Load())
	assert.EqualValues(t, 1, fields.textCalls.Load())
	assert.EqualValues(t, 0, fields.imageCalls.Load())

	assert.Equal(t, ocrText().Text, fields.gotText)
	assert.Len(t, fields.gotBlocks, 2)
	assert.Equal(t, "Europe/Berlin", fields.gotTZ)

	require.NotNil(t, res.Raw)
	assert.Equal(t, ocrText().Text, res.Raw.OCRText)
	assert.Equal(t, ocrText().Blocks, res.Raw.LayoutBlocks)
	assert.Equal(t, 2, res.Raw.Debug["cc_count"])
	assert.Equal(t, 850.0, res.Raw.Debug["blur"])
	assert.Equal(t, 0.1, res.Raw.Debug["edge_density"])

	phone := res.Fields[models.FieldContactPhone]
	assert.Equal(t, "(555) 010-0199", phone.Value)
	assert.True(t, phone.Normalized)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Empty(t, res.Warnings)
}

func TestTextRouteAcceptsOneMissingCriticalField(t *testing.T) {
	fields := &stubFields{
		text: models.Ok(extraction(0.5, models.FieldEventName, models.FieldDate)),
	}
	o := newTestOrchestrator(&stubText{result: ocrText()}, fields, sharpDense)

	res, err := o.Process(context.Background(), checkerPNG(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, models.RouteOCRFirst, res.Route)
	assert.EqualValues(t, 0, fields.imageCalls.Load())
	assert.Equal(t, 0.5, res.Confidence)

	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, models.WarningMissingCriticalFields, res.Warnings[0].Type)
	assert.Equal(t, []string{models.FieldVenueName}, res.Warnings[0].Fields)
}

func TestBlurryImageGoesStraightToVision(t *testing.T) {
	tests := []struct {
		name   string
		scorer scorer
		image  func(*testing.T) []byte
	}{
		{"uniform image scored for real", nil, func(t *testing.T) []byte { return uniformPNG(t, 120, 90) }},
		{"blurry but text dense", blurryDense, checkerPNG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := &stubText{result: ocrText()}
			fields := &stubFields{
				text:  models.Fail[models.Extraction]("must not be called"),
				image: models.Ok(extraction(0.9, models.FieldEventName, models.FieldDate, models.FieldVenueName)),
			}
			o := newTestOrchestrator(text, fields, tt.scorer)
			img := tt.image(t)

			res, err := o.Process(context.Background(), img, Params{})
			require.NoError(t, err)

			assert.Equal(t, models.RouteVision, res.Route)
			assert.True(t, res.ComplexityScore.IsBlurry)
			assert.EqualValues(t, 0, text.calls.Load())
			assert.EqualValues(t, 0, fields.textCalls.Load())
			assert.EqualValues(t, 1, fields.imageCalls.Load())
			assert.Equal(t, img, fields.gotImage)
			assert.Equal(t, "UTC", fields.gotTZ)

			require.NotNil(t, res.Raw)
			assert.Empty(t, res.Raw.OCRText)
			assert.Empty(t, res.Raw.LayoutBlocks)
			assert.Contains(t, res.Raw.Debug, "blur")
			assert.Contains(t, res.Raw.Debug, "edge_density")
			assert.NotContains(t, res.Raw.Debug, "cc_count")
			assert.Len(t, res.Fields, 3)
		})
	}
}

func TestTextRouteFailureFallsBackToVision(t *testing.T) {
	vision := extraction(0.95, models.FieldEventName, models.FieldDate, models.FieldVenueName)

	tests := []struct {
		name   string
		fields *stubFields
	}{
		{"port reports failure", &stubFields{
			text:  models.Fail[models.Extraction]("gemini: TextToJSON failed: 503"),
			image: models.Ok(vision),
		}},
		{"port panics", &stubFields{
			panicOnText: true,
			image:       models.Ok(vision),
		}},
		{"insufficient text extraction", &stubFields{
			text:  models.Ok(extraction(0.3, models.FieldEventName, models.FieldDate, models.FieldVenueName)),
			image: models.Ok(vision),
		}},
		{"two critical fields missing", &stubFields{
			text:  models.Ok(extraction(0.99, models.FieldEventName, models.FieldTime)),
			image: models.Ok(vision),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := &stubText{result: ocrText()}
			o := newTestOrchestrator(text, tt.fields, sharpDense)

			res, err := o.Process(context.Background(), checkerPNG(t), Params{})
			require.NoError(t, err)

			assert.Equal(t, models.RouteOCRFallbackVision, res.Route)
			assert.Empty(t, res.Error)
			assert.EqualValues(t, 1, tt.fields.textCalls.Load())
			assert.EqualValues(t, 1, tt.fields.imageCalls.Load())

			require.NotNil(t, res.Raw)
			assert.Equal(t, ocrText().Text, res.Raw.OCRText)
			assert.Equal(t, ocrText().Blocks, res.Raw.LayoutBlocks)
			assert.Equal(t, 2, res.Raw.Debug["cc_count"])

			assert.Len(t, res.Fields, 3)
			assert.Equal(t, 0.95, res.Fields[models.FieldEventName].Confidence)
			assert.NotContains(t, res.Fields, models.FieldTime)
			assert.Equal(t, 0.95, res.Confidence)
		})
	}
}

func TestVisionFailureAfterFallback(t *testing.T) {
	fields := &stubFields{
		text:  models.Fail[models.Extraction]("openai: TextToJSON failed: timeout"),
		image: models.Fail[models.Extraction]("openai: ImageToJSON failed: quota exceeded"),
	}
	o := newTestOrchestrator(&stubText{result: ocrText()}, fields, sharpDense)

	res, err := o.Process(context.Background(), checkerPNG(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, models.RouteOCRFallbackVision, res.Route)
	assert.Equal(t, "openai: ImageToJSON failed: quota exceeded", res.Error)
	assert.NotNil(t, res.Fields)
	assert.Empty(t, res.Fields)
	assert.NotNil(t, res.Extra)
	assert.Empty(t, res.Extra)
	assert.Equal(t, 0.0, res.Confidence)
	require.NotNil(t, res.Raw)
	assert.Equal(t, ocrText().Text, res.Raw.OCRText)
	assert.EqualValues(t, 1, fields.imageCalls.Load())

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, models.WarningMissingCriticalFields, res.Warnings[0].Type)
	assert.Equal(t, models.WarningLowConfidence, res.Warnings[1].Type)
}

func TestDirectVisionFailureIsNotRetried(t *testing.T) {
	text := &stubText{result: ocrText()}
	fields := &stubFields{image: models.Fail[models.Extraction]("gemini: ImageToJSON failed: blocked")}
	o := newTestOrchestrator(text, fields, blurryDense)

	res, err := o.Process(context.Background(), checkerPNG(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, models.RouteVision, res.Route)
	assert.Equal(t, "gemini: ImageToJSON failed: blocked", res.Error)
	assert.EqualValues(t, 1, fields.imageCalls.Load())
	assert.EqualValues(t, 0, fields.textCalls.Load())
	assert.EqualValues(t, 0, text.calls.Load())
}

func TestForcedRoute(t *testing.T) {
	t.Run("vision on a text dense image", func(t *testing.T) {
		text := &stubText{result: ocrText()}
		fields := &stubFields{image: models.Ok(extraction(0.9, models.FieldEventName))}
		o := newTestOrchestrator(text, fields, sharpDense)

		res, err := o.Process(context.Background(), checkerPNG(t), Params{ForceRoute: "vision"})
		require.NoError(t, err)
		assert.Equal(t, models.RouteVision, res.Route)
		assert.EqualValues(t, 0, text.calls.Load())
	})

	t.Run("ocr_first on a blurry image", func(t *testing.T) {
		text := &stubText{result: ocrText()}
		fields := &stubFields{
			text: models.Ok(extraction(0.9, models.FieldEventName, models.FieldDate, models.FieldVenueName)),
		}
		o := newTestOrchestrator(text, fields, blurryDense)

		res, err := o.Process(context.Background(), checkerPNG(t), Params{ForceRoute: " ocr_first "})
		require.NoError(t, err)
		assert.Equal(t, models.RouteOCRFirst, res.Route)
		assert.EqualValues(t, 1, text.calls.Load())
	})
}

func TestInvalidOverrideIsRejectedBeforeDecoding(t *testing.T) {
	fields := &stubFields{}
	o := newTestOrchestrator(&stubText{}, fields, sharpDense)

	_, err := o.Process(context.Background(), []byte("not an image"), Params{ForceRoute: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, complexity.ErrInvalidRoute))
	assert.False(t, errors.Is(err, imaging.ErrDecode))
	assert.EqualValues(t, 0, fields.textCalls.Load()+fields.imageCalls.Load())
}

func TestUndecodableImage(t *testing.T) {
	fields := &stubFields{}
	o := newTestOrchestrator(&stubText{}, fields, sharpDense)

	for _, raw := range [][]byte{nil, []byte("GIF89a garbage")} {
		_, err := o.Process(context.Background(), raw, Params{})
		require.Error(t, err)

		var decodeErr *imaging.DecodeError
		assert.True(t, errors.As(err, &decodeErr))
		assert.True(t, errors.Is(err, imaging.ErrDecode))
	}
	assert.EqualValues(t, 0, fields.textCalls.Load()+fields.imageCalls.Load())
}

func TestTextExtractorPanicYieldsEmptyText(t *testing.T) {
	text := &stubText{panics: true}
	fields := &stubFields{
		text: models.Ok(extraction(0.9, models.FieldEventName, models.FieldDate, models.FieldVenueName)),
	}
	o := newTestOrchestrator(text, fields, sharpDense)

	res, err := o.Process(context.Background(), checkerPNG(t), Params{})
	require.NoError(t, err)

	assert.Equal(t, models.RouteOCRFirst, res.Route)
	assert.Empty(t, fields.gotText)
	require.NotNil(t, res.Raw)
	assert.NotNil(t, res.Raw.LayoutBlocks)
	assert.Equal(t, 0, res.Raw.Debug["cc_count"])
}

func TestCancelledContextFailsPortCalls(t *testing.T) {
	fields := &stubFields{
		text:  models.Ok(extraction(0.9, models.FieldEventName)),
		image: models.Ok(extraction(0.9, models.FieldEventName)),
	}
	o := newTestOrchestrator(&stubText{result: ocrText()}, fields, sharpDense)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Process(ctx, checkerPNG(t), Params{})
	require.NoError(t, err)
	assert.Equal(t, models.RouteOCRFallbackVision, res.Route)
	assert.Contains(t, res.Error, context.Canceled.Error())
	assert.EqualValues(t, 0, fields.textCalls.Load()+fields.imageCalls.Load())
}

func TestConcurrentRequestsWithMockProvider(t *testing.T) {
	o := newTestOrchestrator(ocr.NoopTextExtractor{}, llm.NewMockExtractor(0), nil)
	img := checkerPNG(t)

	var wg sync.WaitGroup
	results := make([]models.ExtractionResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Process(context.Background(), img, Params{ForceRoute: "vision"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, models.RouteVision, res.Route)
		assert.Equal(t, 0.87, res.Confidence)
		assert.Len(t, res.Fields, 11)
		assert.Len(t, res.Extra, 2)
		assert.Empty(t, res.Warnings)
	}
	assert.Equal(t, results[0], results[7])
}

func TestNewDefaultsTextExtractor(t *testing.T) {
	o := New(nil, llm.NewMockExtractor(0), DefaultConfig())
	assert.Equal(t, ocr.ProviderNone, o.TextExtractorName())
	assert.Equal(t, llm.ProviderMock, o.FieldExtractorName())
	assert.Equal(t, "ocr_first, vision", o.Router().AllowedList())
}

func TestNewDefaultsFieldExtractor(t *testing.T) {
	o := New(nil, nil, DefaultConfig())
	assert.Equal(t, llm.ProviderMock, o.FieldExtractorName())

	res, err := o.Process(context.Background(), checkerPNG(t), Params{ForceRoute: "vision"})
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Equal(t, llm.MockExtraction().Fields[models.FieldEventName].Value, res.Fields[models.FieldEventName].Value)

	same := o.WithFieldExtractor(nil)
	assert.Equal(t, llm.ProviderMock, same.FieldExtractorName())
}

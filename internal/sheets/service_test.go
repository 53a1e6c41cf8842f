package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"eventposter/pkg/models"
)

func sampleResult() models.ExtractionResult {
	r := models.NewExtractionResult(models.RouteOCRFallbackVision, models.ComplexityScore{})
	r.Confidence = 0.82
	r.Fields = map[string]models.FieldEntry{
		models.FieldEventName:        {Value: "Harbor Jazz Night", Confidence: 0.9},
		models.FieldStartDate:        {Value: "2026-11-20", Confidence: 0.9},
		models.FieldStartTime:        {Value: "20:00", Confidence: 0.8},
		models.FieldEndTime:          {Value: "23:30", Confidence: 0.8},
		models.FieldVenueName:        {Value: "Pier 7", Confidence: 0.9},
		models.FieldTicketPrice:      {Value: 15.5, Confidence: 0.7},
		models.FieldOrganizer:        {Value: []any{"Jazz Club", "City Arts"}, Confidence: 0.7},
		models.FieldContactPhone:     {Value: nil, Confidence: 0.1},
		models.FieldWebsite:          {Value: "", Confidence: 0.5},
		models.FieldRegistrationLink: {Value: "https://tickets.example.com", Confidence: 0.8},
	}
	r.Warnings = []models.Warning{
		{Type: models.WarningMissingCriticalFields, Message: "Missing critical fields: date"},
		{Type: models.WarningLowFieldConfidence, Message: "Some fields have low confidence: website"},
	}
	return r
}

func TestRowFromResult(t *testing.T) {
	row := RowFromResult("posters/jazz.jpg", sampleResult(), nil)

	assert.Equal(t, Row{
		File:       "posters/jazz.jpg",
		Event:      "Harbor Jazz Night",
		Date:       "2026-11-20",
		Time:       "20:00-23:30",
		Venue:      "Pier 7",
		Organizer:  "Jazz Club, City Arts",
		Price:      "15.5",
		Website:    "https://tickets.example.com",
		Route:      "ocr_fallback_vision",
		Confidence: 0.82,
		Warnings:   "missing_critical_fields; low_field_confidence",
	}, row)
}

func TestRowFromResultWithError(t *testing.T) {
	row := RowFromResult("broken.png", sampleResult(), errors.New("imaging: Process failed: unknown format"))

	assert.Equal(t, "broken.png", row.File)
	assert.Equal(t, "imaging: Process failed: unknown format", row.Error)
	assert.Empty(t, row.Event)
	assert.Empty(t, row.Route)
	assert.Len(t, row.Values(), len(Headers))
}

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-d_9/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-d_9", id)

	_, err = extractSpreadsheetID("https://example.com/not-a-sheet")
	assert.Error(t, err)
}

// fakeSheetsAPI serves the subset of the Sheets REST API used by EventSheet.
type fakeSheetsAPI struct {
	mu           sync.Mutex
	sheetExists  bool
	headerExists bool
	calls        []string
	appended     [][]interface{}
	header       []interface{}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "batchUpdate")
		if strings.Contains(string(body), "addSheet") {
			f.sheetExists = true
		}
		_, _ = io.WriteString(w, `{"replies":[{"addSheet":{"properties":{"sheetId":42,"title":"Events"}}}]}`)
	case strings.HasSuffix(path, ":append"):
		f.calls = append(f.calls, "append")
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.Unmarshal(body, &vr)
		f.appended = append(f.appended, vr.Values...)
		_, _ = io.WriteString(w, `{}`)
	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		f.calls = append(f.calls, "updateHeader")
		var vr struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.Unmarshal(body, &vr)
		if len(vr.Values) > 0 {
			f.header = vr.Values[0]
		}
		f.headerExists = true
		_, _ = io.WriteString(w, `{}`)
	case strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "getHeader")
		if f.headerExists {
			_, _ = io.WriteString(w, `{"values":[["File","Event"]]}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	default:
		f.calls = append(f.calls, "getSpreadsheet")
		if f.sheetExists {
			_, _ = io.WriteString(w, `{"sheets":[{"properties":{"sheetId":42,"title":"Events"}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"sheets":[{"properties":{"sheetId":0,"title":"Sheet1"}}]}`)
	}
}

func newTestSheet(t *testing.T, api *fakeSheetsAPI) *EventSheet {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	s, err := newEventSheet(context.Background(), "sheet-123",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC) }
	return s
}

func TestAppendResultsCreatesSheetAndHeaders(t *testing.T) {
	api := &fakeSheetsAPI{}
	s := newTestSheet(t, api)

	rows := []Row{
		RowFromResult("a.jpg", sampleResult(), nil),
		RowFromResult("b.jpg", models.ExtractionResult{}, errors.New("decode failed")),
	}
	require.NoError(t, s.AppendResults(context.Background(), rows, "Events"))

	assert.Equal(t, []string{"getSpreadsheet", "batchUpdate", "getHeader", "updateHeader", "batchUpdate", "append"}, api.calls)
	require.Len(t, api.header, len(Headers))
	assert.Equal(t, "File", api.header[0])
	assert.Equal(t, "Processed At", api.header[len(Headers)-1])

	require.Len(t, api.appended, 2)
	assert.Equal(t, "a.jpg", api.appended[0][0])
	assert.Equal(t, "Harbor Jazz Night", api.appended[0][1])
	assert.Equal(t, "2026-10-16 09:30:00", api.appended[0][len(Headers)-1])
	assert.Equal(t, "decode failed", api.appended[1][14])
}

func TestAppendResultsReusesExistingSheet(t *testing.T) {
	api := &fakeSheetsAPI{sheetExists: true, headerExists: true}
	s := newTestSheet(t, api)

	require.NoError(t, s.AppendResults(context.Background(), []Row{{File: "c.jpg", ProcessedAt: "earlier"}}, "Events"))

	assert.Equal(t, []string{"getSpreadsheet", "getHeader", "append"}, api.calls)
	require.Len(t, api.appended, 1)
	assert.Equal(t, "earlier", api.appended[0][len(Headers)-1])
}

func TestAppendResultsSkipsEmptyBatch(t *testing.T) {
	api := &fakeSheetsAPI{}
	s := newTestSheet(t, api)

	require.NoError(t, s.AppendResults(context.Background(), nil, "Events"))
	assert.Empty(t, api.calls)
}

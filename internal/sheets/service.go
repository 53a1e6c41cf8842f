// Package sheets appends extraction results to a Google Sheet, one row per
// processed poster.
//
// Authentication uses a service account, read from the file named by
// GOOGLE_APPLICATION_CREDENTIALS or the inline JSON in GOOGLE_CREDENTIALS.
// The sheet must be shared with the service account's email address.
package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"eventposter/internal/logger"
	"eventposter/pkg/models"
)

// Headers are the column titles written to a new worksheet.
var Headers = []string{
	"File", "Event", "Date", "Time", "Venue", "Address", "Organizer", "Email",
	"Phone", "Price", "Website", "Route", "Confidence", "Warnings", "Error",
	"Processed At",
}

// lastColumn is the column letter of the final header.
var lastColumn = string(rune('A' + len(Headers) - 1))

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Row is one sheet row.
type Row struct {
	File        string
	Event       string
	Date        string
	Time        string
	Venue       string
	Address     string
	Organizer   string
	Email       string
	Phone       string
	Price       string
	Website     string
	Route       string
	Confidence  float64
	Warnings    string
	Error       string
	ProcessedAt string
}

// Values returns the row in column order.
func (r Row) Values() []interface{} {
	return []interface{}{
		r.File, r.Event, r.Date, r.Time, r.Venue, r.Address, r.Organizer,
		r.Email, r.Phone, r.Price, r.Website, r.Route, r.Confidence,
		r.Warnings, r.Error, r.ProcessedAt,
	}
}

// RowFromResult flattens an extraction outcome into a Row. A non-nil err
// (the image was rejected) fills only File and Error.
func RowFromResult(file string, result models.ExtractionResult, err error) Row {
	row := Row{File: file}
	if err != nil {
		row.Error = err.Error()
		return row
	}

	row.Event = fieldString(result, models.FieldEventName)
	row.Date = firstNonEmpty(fieldString(result, models.FieldDate), fieldString(result, models.FieldStartDate))
	row.Time = firstNonEmpty(fieldString(result, models.FieldTime), timeRange(result))
	row.Venue = fieldString(result, models.FieldVenueName)
	row.Address = fieldString(result, models.FieldVenueAddress)
	row.Organizer = fieldString(result, models.FieldOrganizer)
	row.Email = fieldString(result, models.FieldContactEmail)
	row.Phone = fieldString(result, models.FieldContactPhone)
	row.Price = fieldString(result, models.FieldTicketPrice)
	row.Website = firstNonEmpty(fieldString(result, models.FieldWebsite), fieldString(result, models.FieldRegistrationLink))
	row.Route = string(result.Route)
	row.Confidence = result.Confidence
	row.Error = result.Error

	types := make([]string, len(result.Warnings))
	for i, w := range result.Warnings {
		types[i] = string(w.Type)
	}
	row.Warnings = strings.Join(types, "; ")
	return row
}

func fieldString(result models.ExtractionResult, name string) string {
	f, ok := result.Field(name)
	if !ok || !models.HasValue(f.Value) {
		return ""
	}
	switch v := f.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

func timeRange(result models.ExtractionResult) string {
	start := fieldString(result, models.FieldStartTime)
	end := fieldString(result, models.FieldEndTime)
	if start != "" && end != "" {
		return start + "-" + end
	}
	return start
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// EventSheet writes rows to one spreadsheet.
type EventSheet struct {
	sheetsService *sheets.Service
	spreadsheetID string
	now           func() time.Time
	log           zerolog.Logger
}

// NewEventSheet creates an EventSheet for the spreadsheet at sheetURL using
// service account credentials from the environment.
func NewEventSheet(ctx context.Context, sheetURL string) (*EventSheet, error) {
	const op = "NewEventSheet"

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}

	var creds []byte
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return newEventSheet(ctx, spreadsheetID, option.WithHTTPClient(config.Client(ctx)))
}

func newEventSheet(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*EventSheet, error) {
	const op = "newEventSheet"

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	log := logger.WithComponent("sheets")
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Sheets client ready")

	return &EventSheet{
		sheetsService: svc,
		spreadsheetID: spreadsheetID,
		now:           time.Now,
		log:           log,
	}, nil
}

func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// AppendResults appends rows to the worksheet, creating it with a header row
// when needed. Rows without ProcessedAt are stamped with the current time.
func (s *EventSheet) AppendResults(ctx context.Context, rows []Row, worksheet string) error {
	const op = "AppendResults"

	if len(rows) == 0 {
		return nil
	}

	s.log.Info().
		Str("sheet", worksheet).
		Int("rows", len(rows)).
		Msg("Writing extraction results to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, worksheet); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	processedAt := s.now().Format("2006-01-02 15:04:05")
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		if row.ProcessedAt == "" {
			row.ProcessedAt = processedAt
		}
		values[i] = row.Values()
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		fmt.Sprintf("%s!A:%s", worksheet, lastColumn),
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().
		Int("rows_written", len(values)).
		Msg("Successfully wrote extraction results to Google Sheet")
	return nil
}

func (s *EventSheet) ensureSheetWithHeaders(ctx context.Context, worksheet string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetID int64
	exists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == worksheet {
			exists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !exists {
		s.log.Info().Str("sheet", worksheet).Msg("Creating new sheet")
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: worksheet}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", worksheet, lastColumn)
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", worksheet).Msg("Adding headers to sheet")
	header := make([]interface{}, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{header}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and sizes the columns.
func (s *EventSheet) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(Headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}

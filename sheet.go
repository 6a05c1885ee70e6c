package webinar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

type (
	// smartsheetService reads webinar rows from the working Smartsheet and
	// writes result fields back. Column titles come from the configured
	// ColumnMapping and are resolved to column IDs once per fetch.
	smartsheetService struct {
		// Base API endpoint. Default: "https://api.smartsheet.com/2.0"
		baseURL     string
		client      http.Client
		accessToken string
		sheetID     string
		params      SheetParams

		// Column IDs resolved by the last sheet fetch. Every run starts
		// with ListFlaggedRows, so write-backs reuse the run's resolution
		// instead of re-fetching the sheet per row.
		mu   sync.Mutex
		cols *columnIDs
	}

	SmartsheetOptions struct {
		// Overrides the Smartsheet API base URL for testing.
		// Default: "https://api.smartsheet.com/2.0"
		baseAPIOverride string
		accessToken     string
		sheetID         string
		params          SheetParams
	}

	// Wire types for the Smartsheet API.
	// https://smartsheet.redoc.ly/#operation/getSheet
	ssSheet struct {
		ID      int64      `json:"id"`
		Name    string     `json:"name"`
		Columns []ssColumn `json:"columns"`
		Rows    []ssRow    `json:"rows"`
	}

	ssColumn struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}

	ssRow struct {
		ID    int64    `json:"id"`
		Cells []ssCell `json:"cells"`
	}

	ssCell struct {
		ColumnID     int64  `json:"columnId"`
		Value        any    `json:"value,omitempty"`
		DisplayValue string `json:"displayValue,omitempty"`
	}

	// columnIDs maps logical fields to resolved Smartsheet column IDs.
	// Optional columns that are missing from the sheet map to zero.
	columnIDs struct {
		create          int64
		startDate       int64
		startTime       int64
		duration        int64
		title           int64
		agenda          int64
		cohosts         int64
		panelists       int64
		webinarID       int64
		attendeeURL     int64
		hostKey         int64
		registrantCount int64
	}
)

func NewSmartsheetService(o SmartsheetOptions) *smartsheetService {
	apiURL := "https://api.smartsheet.com/2.0"
	if len(o.baseAPIOverride) > 0 {
		apiURL = o.baseAPIOverride
	}
	return &smartsheetService{
		baseURL:     apiURL,
		client:      *http.DefaultClient,
		accessToken: o.accessToken,
		sheetID:     o.sheetID,
		params:      o.params,
	}
}

// ListFlaggedRows fetches the sheet and returns the rows whose create column
// matches the configured sentinel. Rows with any other value are excluded
// before validation. Fails with *ConfigurationError when a required column
// is missing, since no row can be processed without it.
func (s *smartsheetService) ListFlaggedRows(ctx context.Context) ([]Record, error) {
	sheet, cols, err := s.fetchSheet(ctx)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, row := range sheet.Rows {
		flag := strings.TrimSpace(cellString(row, cols.create))
		if !strings.EqualFold(flag, s.params.CreateValue) {
			continue
		}
		records = append(records, s.parseRow(row, cols))
	}
	return records, nil
}

// WriteBack applies a partial update to exactly the result columns of one
// row, leaving every other cell untouched. Result columns missing from the
// sheet are skipped; the webinar ID column is required and always present
// here because fetchSheet enforces it.
func (s *smartsheetService) WriteBack(ctx context.Context, rowID string, res Result) error {
	cols, err := s.resolvedColumns(ctx)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(rowID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse row ID %q: %w", rowID, err)
	}

	cells := []ssCell{{ColumnID: cols.webinarID, Value: res.WebinarID}}
	if cols.attendeeURL != 0 {
		cells = append(cells, ssCell{ColumnID: cols.attendeeURL, Value: res.AttendeeURL})
	}
	if cols.hostKey != 0 {
		cells = append(cells, ssCell{ColumnID: cols.hostKey, Value: res.HostKey})
	}
	if cols.registrantCount != 0 {
		cells = append(cells, ssCell{ColumnID: cols.registrantCount, Value: res.RegistrantCount})
	}

	body, err := json.Marshal([]ssRow{{ID: id, Cells: cells}})
	if err != nil {
		return fmt.Errorf("marshall: %w", err)
	}

	url := fmt.Sprintf("%s/sheets/%s/rows", s.baseURL, s.sheetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("newRequestWithContext: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))
	req.Header.Add("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("client.Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return handleHTTPError(resp)
	}
	return nil
}

func (s *smartsheetService) fetchSheet(ctx context.Context) (*ssSheet, columnIDs, error) {
	url := fmt.Sprintf("%s/sheets/%s", s.baseURL, s.sheetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, columnIDs{}, fmt.Errorf("newRequestWithContext: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, columnIDs{}, fmt.Errorf("client.Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, columnIDs{}, handleHTTPError(resp)
	}

	var sheet ssSheet
	d := json.NewDecoder(resp.Body)
	if err := d.Decode(&sheet); err != nil {
		return nil, columnIDs{}, fmt.Errorf("decode: %w", err)
	}

	cols, err := s.resolveColumns(sheet.Columns)
	if err != nil {
		return nil, columnIDs{}, err
	}
	s.mu.Lock()
	s.cols = &cols
	s.mu.Unlock()
	return &sheet, cols, nil
}

// resolvedColumns returns the column IDs from the most recent sheet fetch,
// fetching the sheet only when nothing has been resolved yet.
func (s *smartsheetService) resolvedColumns(ctx context.Context) (columnIDs, error) {
	s.mu.Lock()
	cached := s.cols
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	_, cols, err := s.fetchSheet(ctx)
	return cols, err
}

// resolveColumns maps the configured column titles to column IDs and checks
// that every column the automation depends on exists.
func (s *smartsheetService) resolveColumns(columns []ssColumn) (columnIDs, error) {
	byTitle := make(map[string]int64, len(columns))
	for _, c := range columns {
		byTitle[c.Title] = c.ID
	}

	m := s.params.Columns
	cols := columnIDs{
		create:          byTitle[m.Create],
		startDate:       byTitle[m.StartDate],
		startTime:       byTitle[m.StartTime],
		duration:        byTitle[m.Duration],
		title:           byTitle[m.Title],
		agenda:          byTitle[m.Agenda],
		cohosts:         byTitle[m.Cohosts],
		panelists:       byTitle[m.Panelists],
		webinarID:       byTitle[m.WebinarID],
		attendeeURL:     byTitle[m.AttendeeURL],
		hostKey:         byTitle[m.HostKey],
		registrantCount: byTitle[m.RegistrantCount],
	}

	var missing []string
	for _, req := range []struct {
		title string
		id    int64
	}{
		{m.Create, cols.create},
		{m.StartDate, cols.startDate},
		{m.StartTime, cols.startTime},
		{m.Title, cols.title},
		{m.WebinarID, cols.webinarID},
	} {
		if req.id == 0 {
			missing = append(missing, req.title)
		}
	}
	if len(missing) > 0 {
		return columnIDs{}, &ConfigurationError{
			Reason: "required column(s) missing from the sheet: " + strings.Join(missing, ", "),
		}
	}
	return cols, nil
}

func (s *smartsheetService) parseRow(row ssRow, cols columnIDs) Record {
	rec := Record{
		RowID:     strconv.FormatInt(row.ID, 10),
		Flag:      strings.TrimSpace(cellString(row, cols.create)),
		Title:     strings.TrimSpace(cellString(row, cols.title)),
		Agenda:    strings.TrimSpace(cellString(row, cols.agenda)),
		StartDate: strings.TrimSpace(cellString(row, cols.startDate)),
		StartTime: strings.TrimSpace(cellString(row, cols.startTime)),
		Cohosts:   ParseContacts(cellString(row, cols.cohosts), s.params.Nicknames),
		Panelists: ParseContacts(cellString(row, cols.panelists), s.params.Nicknames),
		Remote:    PublishedRef(strings.TrimSpace(cellString(row, cols.webinarID))),
	}
	if v := cellNumber(row, cols.duration); v > 0 {
		rec.Duration = int(v)
	}
	return rec
}

// cellString returns the cell value for the column as a string. Smartsheet
// returns numbers as float64, so the display value wins when present.
func cellString(row ssRow, columnID int64) string {
	if columnID == 0 {
		return ""
	}
	for _, c := range row.Cells {
		if c.ColumnID != columnID {
			continue
		}
		if s, ok := c.Value.(string); ok {
			return s
		}
		if c.DisplayValue != "" {
			return c.DisplayValue
		}
		if c.Value != nil {
			return fmt.Sprint(c.Value)
		}
		return ""
	}
	return ""
}

func cellNumber(row ssRow, columnID int64) float64 {
	if columnID == 0 {
		return 0
	}
	for _, c := range row.Cells {
		if c.ColumnID != columnID {
			continue
		}
		switch v := c.Value.(type) {
		case float64:
			return v
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return 0
			}
			return f
		}
	}
	return 0
}

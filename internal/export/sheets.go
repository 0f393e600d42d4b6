// Package export pushes computed monthly reports to a Google Sheets
// spreadsheet, one appended block per report run.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"pocketexpense/internal/stats"
)

type SheetsClient struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsClient creates a Sheets client using Service Account credentials.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewSheetsClient(ctx context.Context, spreadsheetID, sheetName string) (*SheetsClient, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		return nil, errors.New("missing sheet name")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &SheetsClient{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendMonthlyReport appends one report block for the given month: a header
// with the total, one row per category, the budget standings, and the
// generated insight lines. Returns the range reference of the written block.
func (c *SheetsClient) AppendMonthlyReport(ctx context.Context, m stats.Monthly, budgets []stats.BudgetStatus) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	rows := reportRows(m, budgets)

	// Find the next empty row from the sheet's current extent.
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read sheet dimensions for %s: %w", c.sheetName, err)
	}
	startRow := len(resp.Values) + 1

	dataRange := fmt.Sprintf("%s!A%d:D%d", c.sheetName, startRow, startRow+len(rows)-1)
	vr := &gsheet.ValueRange{Values: rows}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write report block to %s: %w", c.sheetName, err)
	}

	slog.InfoContext(ctx, "Monthly report exported",
		"sheet", c.sheetName,
		"range", dataRange,
		"rows", len(rows))
	return dataRange, nil
}

// reportRows lays the report out as spreadsheet rows. Amounts are written as
// decimal values so the sheet can format and sum them.
func reportRows(m stats.Monthly, budgets []stats.BudgetStatus) [][]any {
	rows := [][]any{
		{fmt.Sprintf("%04d-%02d", m.Year, m.Month), "Total", m.Total.Float(), ""},
	}

	for _, ct := range m.Categories {
		rows = append(rows, []any{"", string(ct.Category), ct.Total.Float(), fmt.Sprintf("%d%%", ct.Percentage)})
	}

	for _, b := range budgets {
		status := "within budget"
		if b.Exceeded {
			status = "exceeded"
		}
		rows = append(rows, []any{"", fmt.Sprintf("Budget %s", b.Category), b.Spent.Float(), status})
	}

	for _, insight := range m.Insights {
		rows = append(rows, []any{"", "Insight", insight, ""})
	}

	return rows
}

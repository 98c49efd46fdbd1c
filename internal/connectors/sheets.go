package connectors

import (
	"context"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// SheetsClient appends flow data rows to Google Sheets.
type SheetsClient interface {
	AppendRow(ctx context.Context, spreadsheetID, sheetName string, row []any) error
}

// GoogleSheetsClient talks to the Sheets v4 API with service account
// credentials. The target sheet tab is created on first append when it
// does not exist yet.
type GoogleSheetsClient struct {
	svc *sheets.Service
}

// NewGoogleSheetsClient creates a client from service account JSON.
func NewGoogleSheetsClient(ctx context.Context, credentialsJSON []byte) (*GoogleSheetsClient, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "failed to create sheets service").WithCause(err)
	}
	return &GoogleSheetsClient{svc: svc}, nil
}

// AppendRow ensures the sheet tab exists and appends one row at the end.
func (c *GoogleSheetsClient) AppendRow(ctx context.Context, spreadsheetID, sheetName string, row []any) error {
	if spreadsheetID == "" || sheetName == "" {
		return schema.NewError(schema.ErrCodeConfig, "spreadsheet id and sheet name are required")
	}

	if err := c.ensureSheet(ctx, spreadsheetID, sheetName); err != nil {
		return err
	}

	valueRange := &sheets.ValueRange{Values: [][]any{row}}
	_, err := c.svc.Spreadsheets.Values.
		Append(spreadsheetID, sheetName, valueRange).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConnector, "sheets append failed: %v", err).WithCause(err)
	}
	return nil
}

func (c *GoogleSheetsClient) ensureSheet(ctx context.Context, spreadsheetID, sheetName string) error {
	spreadsheet, err := c.svc.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConnector, "failed to load spreadsheet %s", spreadsheetID).WithCause(err)
	}
	for _, sh := range spreadsheet.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheetName},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return schema.NewErrorf(schema.ErrCodeConnector, "failed to create sheet %q", sheetName).WithCause(err)
	}
	return nil
}

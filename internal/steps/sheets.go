package steps

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const defaultSheetName = "Sheet1"

// SheetsHandler appends a templated row to a Google Sheet.
type SheetsHandler struct {
	sheets connectors.SheetsClient
	logger *slog.Logger
}

// NewSheetsHandler creates the googleSheets handler.
func NewSheetsHandler(sheets connectors.SheetsClient, logger *slog.Logger) *SheetsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsHandler{sheets: sheets, logger: logger}
}

func (h *SheetsHandler) Kind() schema.NodeType { return schema.NodeGoogleSheets }

func (h *SheetsHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.GoogleSheetsData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if h.sheets == nil {
		return stay(), schema.NewError(schema.ErrCodeConfig, "sheets connector is not configured").
			WithNode(turn.Node.ID)
	}
	if data.SpreadsheetID == "" || len(data.Row) == 0 {
		return stay(), schema.NewError(schema.ErrCodeConfig, "sheets step needs a spreadsheet id and a row").
			WithNode(turn.Node.ID)
	}

	sheetName := data.SheetName
	if sheetName == "" {
		sheetName = defaultSheetName
	}

	row := make([]any, len(data.Row))
	for i, cell := range data.Row {
		row[i] = cell
	}
	if err := h.sheets.AppendRow(ctx, data.SpreadsheetID, sheetName, row); err != nil {
		return stay(), err
	}

	logging.LogWith(ctx, h.logger).Debug("row appended to sheet",
		"node", turn.Node.ID, "spreadsheet", data.SpreadsheetID, "sheet", sheetName)
	return Outcome{Advance: data.MoveToNextNode}, nil
}

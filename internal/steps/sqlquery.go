package steps

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// SQLRunner is the query surface the handler needs.
type SQLRunner interface {
	Query(ctx context.Context, conn schema.SQLConnection, query string, params []any) ([]map[string]any, error)
}

// SQLQueryHandler runs a tenant-supplied parameterized query and maps
// result rows into variables. The mapping document exposes "rows" (all
// rows), "row" (first row or null), and "count".
type SQLQueryHandler struct {
	sql    SQLRunner
	jq     expressions.Engine
	logger *slog.Logger
}

// NewSQLQueryHandler creates the sqlQuery handler.
func NewSQLQueryHandler(sql SQLRunner, jq expressions.Engine, logger *slog.Logger) *SQLQueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLQueryHandler{sql: sql, jq: jq, logger: logger}
}

func (h *SQLQueryHandler) Kind() schema.NodeType { return schema.NodeSQLQuery }

func (h *SQLQueryHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.SQLQueryData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if data.Query == "" {
		return stay(), schema.NewError(schema.ErrCodeConfig, "sql step has no query").WithNode(turn.Node.ID)
	}

	rows, err := h.sql.Query(ctx, data.Connection, data.Query, data.Params)
	if err != nil {
		return stay(), err
	}

	var first any
	if len(rows) > 0 {
		first = rows[0]
	}
	doc := map[string]any{
		"rows":  anyRows(rows),
		"row":   first,
		"count": len(rows),
	}

	vars := make(map[string]any, len(data.Mappings))
	for _, m := range data.Mappings {
		if m.Variable == "" || m.Path == "" {
			continue
		}
		val, err := h.jq.Evaluate(ctx, m.Path, doc)
		if err != nil || val == nil {
			logging.LogWith(ctx, h.logger).Debug("sql mapping did not resolve",
				"node", turn.Node.ID, "path", m.Path)
			continue
		}
		vars[m.Variable] = val
	}

	out := Outcome{Advance: data.MoveToNextNode}
	if len(vars) > 0 {
		out.Patch = &session.Patch{Variables: vars}
	}
	return out, nil
}

func anyRows(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

package steps

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// MissingCaptureValue is stored for a mapping whose path does not
// resolve, so downstream templates see a stable marker instead of a
// stale value.
const MissingCaptureValue = "undefined"

// CaptureHandler extracts values from a source object into session
// variables via dotted/indexed paths. The source defaults to the
// inbound event payload.
type CaptureHandler struct {
	logger *slog.Logger
}

// NewCaptureHandler creates the saveData handler.
func NewCaptureHandler(logger *slog.Logger) *CaptureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureHandler{logger: logger}
}

func (h *CaptureHandler) Kind() schema.NodeType { return schema.NodeSaveData }

func (h *CaptureHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.SaveDataData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}
	if len(data.Mappings) == 0 {
		return Outcome{Advance: data.MoveToNextNode}, nil
	}

	source := data.Source
	if source == nil {
		source = turn.Event.Payload
	}
	doc, err := json.Marshal(source)
	if err != nil {
		return stay(), schema.NewErrorf(schema.ErrCodeConfig, "node %s: capture source is not serializable",
			turn.Node.ID).WithNode(turn.Node.ID).WithCause(err)
	}

	vars := make(map[string]any, len(data.Mappings))
	for _, m := range data.Mappings {
		if m.Variable == "" {
			continue
		}
		result := gjson.GetBytes(doc, gjsonPath(m.Path))
		if !result.Exists() {
			logging.LogWith(ctx, h.logger).Debug("capture path missing",
				"node", turn.Node.ID, "path", m.Path, "variable", m.Variable)
			vars[m.Variable] = MissingCaptureValue
			continue
		}
		vars[m.Variable] = result.Value()
	}

	return Outcome{
		Advance: data.MoveToNextNode,
		Patch:   &session.Patch{Variables: vars},
	}, nil
}

// gjsonPath converts bracket indexing ("items[0].id") into gjson's
// dotted form ("items.0.id").
func gjsonPath(path string) string {
	replaced := strings.ReplaceAll(path, "[", ".")
	replaced = strings.ReplaceAll(replaced, "]", "")
	return strings.Trim(replaced, ".")
}

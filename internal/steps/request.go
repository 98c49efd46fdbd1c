package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// HTTPDoer is the outbound request surface the handler needs.
type HTTPDoer interface {
	Do(ctx context.Context, req connectors.Request) (*connectors.Response, error)
}

// RequestHandler runs an outbound HTTP call and maps declared response
// paths into variables. Connector failure is non-fatal to the flow:
// variables stay untouched and the turn still advances per the step's
// flag, so a flaky endpoint cannot strand a conversation.
type RequestHandler struct {
	http   HTTPDoer
	jq     expressions.Engine
	logger *slog.Logger
}

// NewRequestHandler creates the request handler. jq backs the response
// path mappings.
func NewRequestHandler(http HTTPDoer, jq expressions.Engine, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{http: http, jq: jq, logger: logger}
}

func (h *RequestHandler) Kind() schema.NodeType { return schema.NodeRequest }

func (h *RequestHandler) Handle(ctx context.Context, turn *Turn) (Outcome, error) {
	var data schema.RequestData
	if err := turn.Decode(&data); err != nil {
		return stay(), err
	}

	resp, err := h.http.Do(ctx, connectors.Request{
		Method:      data.Method,
		URL:         data.URL,
		Headers:     data.Headers,
		Body:        data.Body,
		ContentType: data.ContentType,
		Timeout:     time.Duration(data.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logging.LogWith(ctx, h.logger).Warn("outbound request failed, continuing without response variables",
			"node", turn.Node.ID, "url", data.URL, "error", err.Error())
		return Outcome{Advance: data.MoveToNextNode}, nil
	}

	vars := h.mapResponse(ctx, turn, data.Mappings, resp.Map())
	out := Outcome{Advance: data.MoveToNextNode}
	if len(vars) > 0 {
		out.Patch = &session.Patch{Variables: vars}
	}
	return out, nil
}

// mapResponse evaluates each mapping's jq path over the normalized
// response. A failing path skips its variable only.
func (h *RequestHandler) mapResponse(ctx context.Context, turn *Turn, mappings []schema.ResponseMapping, doc map[string]any) map[string]any {
	if len(mappings) == 0 || h.jq == nil {
		return nil
	}
	vars := make(map[string]any, len(mappings))
	for _, m := range mappings {
		if m.Variable == "" || m.Path == "" {
			continue
		}
		val, err := h.jq.Evaluate(ctx, m.Path, doc)
		if err != nil || val == nil {
			logging.LogWith(ctx, h.logger).Debug("response mapping did not resolve",
				"node", turn.Node.ID, "path", m.Path)
			continue
		}
		vars[m.Variable] = val
	}
	return vars
}

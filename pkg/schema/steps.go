package schema

import "encoding/json"

// DecodeData unmarshals a node's config bag into a kind-specific struct.
func DecodeData(n *Node, out any) error {
	if len(n.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Data, out); err != nil {
		return NewErrorf(ErrCodeConfig, "node %s: malformed %s config: %s", n.ID, n.Type, err.Error()).
			WithNode(n.ID).WithCause(err)
	}
	return nil
}

// SendMessageData configures a sendMessage step.
type SendMessageData struct {
	Message        string `json:"message"`
	MoveToNextNode bool   `json:"moveToNextNode,omitempty"`
}

// ConditionData configures a condition (branch) step. Compare, when set,
// replaces the inbound text as the left operand after variable
// substitution.
type ConditionData struct {
	Conditions     []Condition `json:"conditions"`
	Compare        string      `json:"compare,omitempty"`
	MoveToNextNode bool        `json:"moveToNextNode,omitempty"`
}

// CaptureMapping binds one variable name to a dotted/indexed path into a
// source object (e.g. "contact.emails[0].address").
type CaptureMapping struct {
	Variable string `json:"variable"`
	Path     string `json:"path"`
}

// SaveDataData configures a saveData (variable capture) step. Source
// defaults to the event payload when omitted.
type SaveDataData struct {
	Source         map[string]any   `json:"source,omitempty"`
	Mappings       []CaptureMapping `json:"mappings"`
	MoveToNextNode bool             `json:"moveToNextNode,omitempty"`
}

// DisableAutoReplyData configures a disableAutoReply step. The engine
// suppresses all automatic processing until now + hours + minutes.
type DisableAutoReplyData struct {
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
}

// ResponseMapping binds one variable name to a jq path expression over a
// connector response.
type ResponseMapping struct {
	Variable string `json:"variable"`
	Path     string `json:"path"`
}

// RequestData configures an outbound HTTP request step.
type RequestData struct {
	Method         string            `json:"method,omitempty"` // default GET
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	ContentType    string            `json:"contentType,omitempty"` // json | form | text (default json)
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Mappings       []ResponseMapping `json:"mappings,omitempty"`
	MoveToNextNode bool              `json:"moveToNextNode,omitempty"`
}

// DelayData configures a delay step: the turn suspends for Seconds, then
// proceeds synchronously.
type DelayData struct {
	Seconds        int  `json:"seconds"`
	MoveToNextNode bool `json:"moveToNextNode,omitempty"`
}

// GoogleSheetsData configures a spreadsheet push step.
type GoogleSheetsData struct {
	SpreadsheetID  string   `json:"spreadsheetId"`
	SheetName      string   `json:"sheetName,omitempty"`
	Row            []string `json:"row"`
	MoveToNextNode bool     `json:"moveToNextNode,omitempty"`
}

// EmailData configures an email step.
type EmailData struct {
	To             string `json:"to"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body,omitempty"`
	MoveToNextNode bool   `json:"moveToNextNode,omitempty"`
}

// AssignAgentData configures a human handoff step. An empty AgentID means
// a random active agent for the tenant.
type AssignAgentData struct {
	AgentID        string `json:"agentId,omitempty"`
	MoveToNextNode bool   `json:"moveToNextNode,omitempty"`
}

// AIFunction declares one structured action the assistant may invoke.
// A returned function call routes the turn along the edge whose
// sourceHandle equals ID.
type AIFunction struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// AIAssistantData configures an AI handoff step. AssignedToAI marks a
// persistent handoff: the session's aiTransfer flag is set and every
// subsequent inbound message is routed here.
type AIAssistantData struct {
	AssignedToAI  bool         `json:"assignedToAi,omitempty"`
	Provider      string       `json:"provider,omitempty"` // openai | deepseek | ollama
	Model         string       `json:"model,omitempty"`
	APIKey        string       `json:"apiKey,omitempty"`
	BaseURL       string       `json:"baseUrl,omitempty"`
	SystemPrompt  string       `json:"systemPrompt,omitempty"`
	HistoryWindow int          `json:"historyWindow,omitempty"`
	Functions     []AIFunction `json:"functions,omitempty"`
}

// SQLConnection is a tenant-supplied database descriptor.
type SQLConnection struct {
	Driver   string `json:"driver"` // postgres | libsql
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	URL      string `json:"url,omitempty"` // full DSN; overrides the discrete fields
}

// SQLQueryData configures an ad-hoc SQL query step.
type SQLQueryData struct {
	Connection     SQLConnection     `json:"connection"`
	Query          string            `json:"query"`
	Params         []any             `json:"params,omitempty"`
	Mappings       []ResponseMapping `json:"mappings,omitempty"`
	MoveToNextNode bool              `json:"moveToNextNode,omitempty"`
}

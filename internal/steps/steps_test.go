package steps

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/ai"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/channel"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/conditions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

func testJQ(t *testing.T) expressions.Engine {
	t.Helper()
	return expressions.NewGoJQEngine()
}

func testMatcher(t *testing.T) *conditions.Matcher {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return conditions.NewMatcher(cel, nil)
}

// --- Mocks ---

type sentMessage struct {
	Correspondent string
	Content       string
}

type mockAdapter struct {
	sent []sentMessage
	fail bool
}

func (m *mockAdapter) Send(ctx context.Context, correspondent, content string) (string, error) {
	if m.fail {
		return "", schema.NewError(schema.ErrCodeConnector, "transport down")
	}
	m.sent = append(m.sent, sentMessage{Correspondent: correspondent, Content: content})
	return "msg-1", nil
}

type mockHTTP struct {
	resp *connectors.Response
	err  error
	got  *connectors.Request
}

func (m *mockHTTP) Do(ctx context.Context, req connectors.Request) (*connectors.Response, error) {
	m.got = &req
	return m.resp, m.err
}

type mockSQL struct {
	rows []map[string]any
	err  error
}

func (m *mockSQL) Query(ctx context.Context, conn schema.SQLConnection, query string, params []any) ([]map[string]any, error) {
	return m.rows, m.err
}

type mockSheets struct {
	appended [][]any
	err      error
}

func (m *mockSheets) AppendRow(ctx context.Context, spreadsheetID, sheetName string, row []any) error {
	if m.err != nil {
		return m.err
	}
	m.appended = append(m.appended, row)
	return nil
}

type mockEmail struct {
	sent []connectors.EmailMessage
	err  error
}

func (m *mockEmail) Send(ctx context.Context, msg connectors.EmailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockDirectory struct {
	agents []Agent
	err    error
}

func (m *mockDirectory) ActiveAgents(ctx context.Context, tenantID string) ([]Agent, error) {
	return m.agents, m.err
}

type mockProvider struct {
	name   string
	result *ai.Result
	err    error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Converse(ctx context.Context, cfg ai.Config, history []ai.Message) (*ai.Result, error) {
	return m.result, m.err
}

// --- Helpers ---

func testChannels(t *testing.T, adapter channel.Adapter) *channel.SessionRegistry {
	t.Helper()
	reg := channel.NewSessionRegistry()
	require.NoError(t, reg.Register("t1", "c1", adapter))
	return reg
}

func newTurn(nodeType schema.NodeType, data string, edges ...schema.Edge) *Turn {
	node := schema.Node{ID: "n1", Type: nodeType, Data: json.RawMessage(data)}
	return &Turn{
		Flow: &schema.Flow{ID: "f1", TenantID: "t1", ChannelID: "c1"},
		Graph: &schema.FlowGraph{
			Nodes: []schema.Node{node, {ID: "n2", Type: schema.NodeSendMessage}},
			Edges: edges,
		},
		Node:    &node,
		Data:    json.RawMessage(data),
		Session: &schema.Session{TenantID: "t1", FlowID: "f1", Correspondent: "+1555"},
		Event: &schema.InboundEvent{
			TenantID:      "t1",
			ChannelID:     "c1",
			Correspondent: "+1555",
			Text:          "hello",
			ReceivedAt:    time.Now(),
		},
		Scope: map[string]any{},
	}
}

// --- Registry ---

func TestRegistryDuplicateKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDelayHandler(nil)))
	assert.Error(t, r.Register(NewDelayHandler(nil)))

	h, err := r.Get(schema.NodeDelay)
	require.NoError(t, err)
	assert.Equal(t, schema.NodeDelay, h.Kind())

	_, err = r.Get(schema.NodeSQLQuery)
	assert.Error(t, err)
}

// --- Message ---

func TestMessageDeliversAndRecordsHistory(t *testing.T) {
	adapter := &mockAdapter{}
	history := ai.NewMemoryHistoryStore()
	h := NewMessageHandler(testChannels(t, adapter), history, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeSendMessage,
		`{"message":"Welcome!","moveToNextNode":false}`))
	require.NoError(t, err)
	assert.False(t, out.Advance)
	assert.False(t, out.Stay)

	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "Welcome!", adapter.sent[0].Content)

	logged, err := history.Recent(context.Background(), "t1", "+1555", 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, ai.RoleAssistant, logged[0].Role)
}

func TestMessageNoLiveChannel(t *testing.T) {
	h := NewMessageHandler(channel.NewSessionRegistry(), nil, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeSendMessage, `{"message":"hi"}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

func TestMessageDeliveryFailureStays(t *testing.T) {
	h := NewMessageHandler(testChannels(t, &mockAdapter{fail: true}), nil, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeSendMessage, `{"message":"hi"}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
	assert.False(t, out.Advance)
}

// --- Capture ---

func TestCaptureFromPayload(t *testing.T) {
	h := NewCaptureHandler(nil)
	turn := newTurn(schema.NodeSaveData,
		`{"mappings":[{"variable":"email","path":"contact.emails[0]"},{"variable":"missing","path":"contact.fax"}],"moveToNextNode":true}`)
	turn.Event.Payload = map[string]any{
		"contact": map[string]any{"emails": []any{"a@b.co", "c@d.co"}},
	}

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "a@b.co", out.Patch.Variables["email"])
	assert.Equal(t, MissingCaptureValue, out.Patch.Variables["missing"])
}

func TestCaptureExplicitSource(t *testing.T) {
	h := NewCaptureHandler(nil)
	turn := newTurn(schema.NodeSaveData,
		`{"source":{"order":{"id":9}},"mappings":[{"variable":"orderId","path":"order.id"}]}`)

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	require.NotNil(t, out.Patch)
	assert.EqualValues(t, 9, out.Patch.Variables["orderId"])
}

// --- Suppress ---

func TestSuppressSetsDisableWindow(t *testing.T) {
	h := NewSuppressHandler(nil)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return base }

	out, err := h.Handle(context.Background(), newTurn(schema.NodeDisableAutoReply,
		`{"hours":1,"minutes":30}`))
	require.NoError(t, err)
	assert.True(t, out.Stay)
	assert.False(t, out.Advance)

	require.NotNil(t, out.Patch)
	require.NotNil(t, out.Patch.DisableChat)
	disable := *out.Patch.DisableChat
	require.NotNil(t, disable)
	assert.Equal(t, base.Add(90*time.Minute), disable.Timestamp)
}

func TestSuppressZeroDurationIsNoop(t *testing.T) {
	h := NewSuppressHandler(nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeDisableAutoReply, `{}`))
	require.NoError(t, err)
	assert.True(t, out.Stay)
	assert.Nil(t, out.Patch)
}

// --- Request ---

func TestRequestMapsResponseVariables(t *testing.T) {
	http := &mockHTTP{resp: &connectors.Response{
		Status: 200,
		Body:   map[string]any{"user": map[string]any{"name": "Dana"}},
	}}
	h := NewRequestHandler(http, testJQ(t), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeRequest,
		`{"url":"https://api.example.com/u/1","mappings":[{"variable":"userName","path":".body.user.name"}],"moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "Dana", out.Patch.Variables["userName"])
	assert.Equal(t, "https://api.example.com/u/1", http.got.URL)
}

func TestRequestFailureStillAdvancesPerFlag(t *testing.T) {
	http := &mockHTTP{err: schema.NewError(schema.ErrCodeTimeout, "deadline exceeded")}
	h := NewRequestHandler(http, testJQ(t), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeRequest,
		`{"url":"https://slow.example.com","moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	assert.Nil(t, out.Patch)

	out, err = h.Handle(context.Background(), newTurn(schema.NodeRequest,
		`{"url":"https://slow.example.com","moveToNextNode":false}`))
	require.NoError(t, err)
	assert.False(t, out.Advance)
	assert.Nil(t, out.Patch)
}

// --- Delay ---

func TestDelayZeroSecondsAdvances(t *testing.T) {
	h := NewDelayHandler(nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeDelay,
		`{"seconds":0,"moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
}

func TestDelayCancelledByContext(t *testing.T) {
	h := NewDelayHandler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.Handle(ctx, newTurn(schema.NodeDelay, `{"seconds":30}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

// --- Sheets ---

func TestSheetsAppendsRow(t *testing.T) {
	sheets := &mockSheets{}
	h := NewSheetsHandler(sheets, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeGoogleSheets,
		`{"spreadsheetId":"ss1","row":["Dana","+1555"],"moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.Len(t, sheets.appended, 1)
	assert.Equal(t, []any{"Dana", "+1555"}, sheets.appended[0])
}

func TestSheetsFailureStays(t *testing.T) {
	sheets := &mockSheets{err: schema.NewError(schema.ErrCodeConnector, "quota")}
	h := NewSheetsHandler(sheets, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeGoogleSheets,
		`{"spreadsheetId":"ss1","row":["x"],"moveToNextNode":true}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

// --- Email ---

func TestEmailSplitsRecipients(t *testing.T) {
	sender := &mockEmail{}
	h := NewEmailHandler(sender, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeEmail,
		`{"to":"a@b.co, c@d.co","subject":"New lead","body":"Dana wrote in","moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"a@b.co", "c@d.co"}, sender.sent[0].To)
}

func TestEmailNoRecipients(t *testing.T) {
	h := NewEmailHandler(&mockEmail{}, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeEmail, `{"to":" "}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

// --- Assign agent ---

func TestAssignSpecificAgent(t *testing.T) {
	dir := &mockDirectory{agents: []Agent{{ID: "a1", Name: "Sam"}, {ID: "a2", Name: "Alex"}}}
	h := NewAssignAgentHandler(dir, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAssignAgent,
		`{"agentId":"a2","moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "a2", out.Patch.Variables[VarAssignedAgentID])
	assert.Equal(t, "Alex", out.Patch.Variables[VarAssignedAgentName])
}

func TestAssignRandomAgent(t *testing.T) {
	dir := &mockDirectory{agents: []Agent{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}}
	h := NewAssignAgentHandler(dir, nil)
	h.pick = func(n int) int { return n - 1 }

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAssignAgent, `{}`))
	require.NoError(t, err)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "a3", out.Patch.Variables[VarAssignedAgentID])
}

func TestAssignNoActiveAgents(t *testing.T) {
	h := NewAssignAgentHandler(&mockDirectory{}, nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAssignAgent, `{}`))
	require.NoError(t, err)
	assert.True(t, out.Stay)
	assert.Nil(t, out.Patch)
}

// --- AI assistant ---

func aiRegistry(p ai.Provider) *ai.Registry {
	return ai.NewRegistry(p)
}

func TestAssistantPersistentHandoffArmsTransfer(t *testing.T) {
	h := NewAssistantHandler(aiRegistry(&mockProvider{name: "openai"}), ai.NewMemoryHistoryStore(),
		channel.NewSessionRegistry(), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAIAssistant,
		`{"assignedToAi":true,"provider":"openai","model":"gpt-4o-mini","apiKey":"k"}`))
	require.NoError(t, err)
	assert.True(t, out.Stay)
	assert.False(t, out.Advance)

	require.NotNil(t, out.Patch)
	require.NotNil(t, out.Patch.AITransfer)
	transfer := *out.Patch.AITransfer
	require.NotNil(t, transfer)
	assert.True(t, transfer.Active)
	require.NotNil(t, transfer.Node)
	assert.Equal(t, "n1", transfer.Node.ID)
}

func TestAssistantConversesWhenTransferActive(t *testing.T) {
	adapter := &mockAdapter{}
	provider := &mockProvider{name: "openai", result: &ai.Result{Text: "How can I help?", Success: true}}
	history := ai.NewMemoryHistoryStore()
	h := NewAssistantHandler(aiRegistry(provider), history, testChannels(t, adapter), nil)

	turn := newTurn(schema.NodeAIAssistant, `{"assignedToAi":true,"provider":"openai","apiKey":"k"}`)
	turn.Session.AITransfer = &schema.AITransfer{Active: true, Node: turn.Node}

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.True(t, out.Stay)

	require.Len(t, adapter.sent, 1)
	assert.Equal(t, "How can I help?", adapter.sent[0].Content)

	logged, err := history.Recent(context.Background(), "t1", "+1555", 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, ai.RoleUser, logged[0].Role)
	assert.Equal(t, ai.RoleAssistant, logged[1].Role)
}

func TestAssistantFunctionCallRoutesEdge(t *testing.T) {
	provider := &mockProvider{name: "openai", result: &ai.Result{
		Success:      true,
		FunctionCall: &ai.FunctionCall{ID: "fn_book", Arguments: map[string]any{"slot": "10am"}},
	}}
	h := NewAssistantHandler(aiRegistry(provider), ai.NewMemoryHistoryStore(),
		channel.NewSessionRegistry(), nil)

	turn := newTurn(schema.NodeAIAssistant, `{"provider":"openai","apiKey":"k"}`,
		schema.Edge{Source: "n1", Target: "n2", SourceHandle: "fn_book"})

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.True(t, out.Advance)
	assert.Equal(t, "n2", out.NextNodeID)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "10am", out.Patch.Variables["slot"])
}

func TestAssistantFunctionCallWithoutEdgeIsGraphError(t *testing.T) {
	provider := &mockProvider{name: "openai", result: &ai.Result{
		Success:      true,
		FunctionCall: &ai.FunctionCall{ID: "fn_unknown"},
	}}
	h := NewAssistantHandler(aiRegistry(provider), ai.NewMemoryHistoryStore(),
		channel.NewSessionRegistry(), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAIAssistant,
		`{"provider":"openai","apiKey":"k"}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

func TestAssistantProviderFailureIsSilent(t *testing.T) {
	provider := &mockProvider{name: "openai", result: &ai.Result{Success: false, Message: "rate limited"}}
	h := NewAssistantHandler(aiRegistry(provider), ai.NewMemoryHistoryStore(),
		channel.NewSessionRegistry(), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeAIAssistant,
		`{"provider":"openai","apiKey":"k"}`))
	require.NoError(t, err)
	assert.True(t, out.Stay)
}

// --- SQL query ---

func TestSQLQueryMapsRows(t *testing.T) {
	runner := &mockSQL{rows: []map[string]any{
		{"name": "Dana", "tier": "gold"},
		{"name": "Sam", "tier": "silver"},
	}}
	h := NewSQLQueryHandler(runner, testJQ(t), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeSQLQuery,
		`{"connection":{"driver":"postgres","url":"postgres://u@h/db"},"query":"select * from customers where phone = $1","params":["+1555"],"mappings":[{"variable":"tier","path":".row.tier"},{"variable":"matches","path":".count"}],"moveToNextNode":true}`))
	require.NoError(t, err)
	assert.True(t, out.Advance)
	require.NotNil(t, out.Patch)
	assert.Equal(t, "gold", out.Patch.Variables["tier"])
	assert.EqualValues(t, 2, out.Patch.Variables["matches"])
}

func TestSQLQueryConnectorFailureStays(t *testing.T) {
	runner := &mockSQL{err: schema.NewError(schema.ErrCodeConnector, "connection refused")}
	h := NewSQLQueryHandler(runner, testJQ(t), nil)

	out, err := h.Handle(context.Background(), newTurn(schema.NodeSQLQuery,
		`{"connection":{"driver":"postgres","url":"x"},"query":"select 1","moveToNextNode":true}`))
	assert.Error(t, err)
	assert.True(t, out.Stay)
	assert.False(t, out.Advance)
}

// --- Branch ---
// Branch routing is covered in the engine tests together with position
// movement; here only the handle fallback logic.

func TestBranchDefaultEdgeFallback(t *testing.T) {
	h := NewBranchHandler(testMatcher(t), nil)
	turn := newTurn(schema.NodeCondition,
		`{"conditions":[{"type":"text_contains","value":"order","targetNodeId":"orders"}]}`,
		schema.Edge{Source: "n1", Target: "n2", SourceHandle: schema.DefaultHandle})
	turn.Event.Text = "something else"

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, "n2", out.NextNodeID)
}

func TestBranchMatchedEdge(t *testing.T) {
	h := NewBranchHandler(testMatcher(t), nil)
	turn := newTurn(schema.NodeCondition,
		`{"conditions":[{"type":"text_contains","value":"order","targetNodeId":"orders"}],"moveToNextNode":true}`,
		schema.Edge{Source: "n1", Target: "n2", SourceHandle: "orders"},
		schema.Edge{Source: "n1", Target: "nX", SourceHandle: schema.DefaultHandle})
	turn.Event.Text = "My Order #5"

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.True(t, out.Advance)
	assert.Equal(t, "n2", out.NextNodeID)
}

func TestBranchNoEdgesIsGraphError(t *testing.T) {
	h := NewBranchHandler(testMatcher(t), nil)
	turn := newTurn(schema.NodeCondition, `{"conditions":[]}`)

	out, err := h.Handle(context.Background(), turn)
	assert.Error(t, err)
	assert.True(t, out.Stay)
}

func TestBranchCompareOverridesText(t *testing.T) {
	h := NewBranchHandler(testMatcher(t), nil)
	turn := newTurn(schema.NodeCondition,
		`{"compare":"gold","conditions":[{"type":"text_exact","value":"gold","targetNodeId":"vip"}]}`,
		schema.Edge{Source: "n1", Target: "n2", SourceHandle: "vip"})
	turn.Event.Text = "anything"

	out, err := h.Handle(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, "n2", out.NextNodeID)
}

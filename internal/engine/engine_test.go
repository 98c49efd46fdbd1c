package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/ai"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/channel"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/conditions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/connectors"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/steps"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// --- Fixture ---

type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *recordingAdapter) Send(ctx context.Context, correspondent, content string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, content)
	return fmt.Sprintf("msg-%d", len(a.sent)), nil
}

func (a *recordingAdapter) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	copy(out, a.sent)
	return out
}

type failingHTTP struct{}

func (failingHTTP) Do(ctx context.Context, req connectors.Request) (*connectors.Response, error) {
	return nil, schema.NewError(schema.ErrCodeTimeout, "deadline exceeded")
}

type fixture struct {
	engine  *Engine
	store   *session.MemoryStore
	adapter *recordingAdapter
	history *ai.MemoryHistoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := session.NewMemoryStore()
	adapter := &recordingAdapter{}
	channels := channel.NewSessionRegistry()
	require.NoError(t, channels.Register("t1", "c1", adapter))
	history := ai.NewMemoryHistoryStore()

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	matcher := conditions.NewMatcher(cel, nil)
	jq := expressions.NewGoJQEngine()

	registry := steps.NewRegistry()
	for _, h := range []steps.Handler{
		steps.NewMessageHandler(channels, history, nil),
		steps.NewBranchHandler(matcher, nil),
		steps.NewCaptureHandler(nil),
		steps.NewSuppressHandler(nil),
		steps.NewRequestHandler(failingHTTP{}, jq, nil),
		steps.NewDelayHandler(nil),
		steps.NewAssistantHandler(ai.NewRegistry(), history, channels, nil),
	} {
		require.NoError(t, registry.Register(h))
	}

	resolver := expressions.NewResolver(expressions.NewExprEngine())
	eng := New(store, registry, resolver, nil, nil, Config{Pacing: -1})

	return &fixture{engine: eng, store: store, adapter: adapter, history: history}
}

func testEvent(text string) *schema.InboundEvent {
	return &schema.InboundEvent{
		TenantID:      "t1",
		ChannelID:     "c1",
		Correspondent: "+1555",
		DisplayName:   "Dana",
		Text:          text,
		ReceivedAt:    time.Now(),
	}
}

func testFlow(nodes []schema.Node, edges []schema.Edge) *schema.Flow {
	all := append([]schema.Node{{ID: schema.InitialNodeID}}, nodes...)
	return &schema.Flow{
		ID:        "f1",
		TenantID:  "t1",
		ChannelID: "c1",
		Active:    true,
		Graph:     schema.FlowGraph{Nodes: all, Edges: edges},
	}
}

func sessionKey() session.Key {
	return session.Key{TenantID: "t1", FlowID: "f1", Correspondent: "+1555"}
}

// --- Scenario 1: fresh correspondent, welcome message, turn stops ---

func TestFreshSessionWelcomeMessage(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "send1", Type: schema.NodeSendMessage,
			Data: json.RawMessage(`{"message":"Welcome {{{name}}}!","moveToNextNode":false}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "send1"}},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hi")))

	assert.Equal(t, []string{"Welcome Dana!"}, f.adapter.messages())

	sess, err := f.store.Get(context.Background(), sessionKey())
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Node)
	assert.Equal(t, "send1", sess.Node.ID)
}

// --- Scenario 2: branch routes on matched condition ---

func TestBranchRoutesMatchedCondition(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{
			{ID: "branch1", Type: schema.NodeCondition, Data: json.RawMessage(
				`{"conditions":[{"type":"text_contains","value":"order","caseSensitive":false,"targetNodeId":"n1"}],"moveToNextNode":true}`)},
			{ID: "orders", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"Which order?"}`)},
		},
		[]schema.Edge{
			{Source: schema.InitialNodeID, Target: "branch1"},
			{Source: "branch1", Target: "orders", SourceHandle: "n1"},
		},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("My Order #5")))

	assert.Equal(t, []string{"Which order?"}, f.adapter.messages())
	sess, _ := f.store.Get(context.Background(), sessionKey())
	require.NotNil(t, sess.Node)
	assert.Equal(t, "orders", sess.Node.ID)
}

// --- Scenario 3: disabled gate drops turns entirely ---

func TestDisabledGateDropsTurn(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "send1", Type: schema.NodeSendMessage,
			Data: json.RawMessage(`{"message":"hello"}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "send1"}},
	)

	require.NoError(t, f.store.Create(context.Background(), &schema.Session{
		TenantID: "t1", FlowID: "f1", Correspondent: "+1555",
		Node:        &schema.Node{ID: "send1", Type: schema.NodeSendMessage},
		DisableChat: &schema.DisableChat{Timestamp: time.Now().Add(time.Hour)},
	}))

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("anyone there?")))
	assert.Empty(t, f.adapter.messages())
}

// Gate precedence: disabled wins over an active AI handoff.
func TestDisabledGateBeatsAITransfer(t *testing.T) {
	f := newFixture(t)
	aiNode := schema.Node{ID: "ai1", Type: schema.NodeAIAssistant,
		Data: json.RawMessage(`{"provider":"openai","apiKey":"k"}`)}
	flow := testFlow(
		[]schema.Node{aiNode},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "ai1"}},
	)

	require.NoError(t, f.store.Create(context.Background(), &schema.Session{
		TenantID: "t1", FlowID: "f1", Correspondent: "+1555",
		Node:        &aiNode,
		DisableChat: &schema.DisableChat{Timestamp: time.Now().Add(time.Hour)},
		AITransfer:  &schema.AITransfer{Active: true, Node: &aiNode},
	}))

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hi")))
	assert.Empty(t, f.adapter.messages())
}

// --- Scenario 4: request timeout keeps variables, advances per flag ---

func TestRequestTimeoutAdvancesPerFlag(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{
			{ID: "req1", Type: schema.NodeRequest, Data: json.RawMessage(
				`{"url":"https://slow.example.com","moveToNextNode":true}`)},
			{ID: "send1", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"Done anyway"}`)},
		},
		[]schema.Edge{
			{Source: schema.InitialNodeID, Target: "req1"},
			{Source: "req1", Target: "send1"},
		},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("go")))

	assert.Equal(t, []string{"Done anyway"}, f.adapter.messages())
	sess, _ := f.store.Get(context.Background(), sessionKey())
	// Only the identity variables seeded at creation; nothing from the
	// failed request.
	assert.Equal(t, "+1555", sess.Variables[schema.VarCorrespondent])
	assert.NotContains(t, sess.Variables, "userName")
}

// --- Scenario 5: persistent AI handoff gates later events ---

func TestPersistentAIHandoff(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "ai1", Type: schema.NodeAIAssistant, Data: json.RawMessage(
			`{"assignedToAi":true,"provider":"openai","apiKey":"k"}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "ai1"}},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("talk to ai")))

	sess, err := f.store.Get(context.Background(), sessionKey())
	require.NoError(t, err)
	require.NotNil(t, sess.AITransfer)
	assert.True(t, sess.AITransfer.Active)
	require.NotNil(t, sess.AITransfer.Node)
	assert.Equal(t, "ai1", sess.AITransfer.Node.ID)
}

// --- Continuation semantics ---

func TestContinuationStopsWithoutAdvanceFlag(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{
			{ID: "send1", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"one","moveToNextNode":false}`)},
			{ID: "send2", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"two"}`)},
		},
		[]schema.Edge{
			{Source: schema.InitialNodeID, Target: "send1"},
			{Source: "send1", Target: "send2"},
		},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hi")))

	// Exactly one dispatch; position moved to the next node though.
	assert.Equal(t, []string{"one"}, f.adapter.messages())
	sess, _ := f.store.Get(context.Background(), sessionKey())
	assert.Equal(t, "send2", sess.Node.ID)
}

func TestContinuationChainsWithAdvanceFlag(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{
			{ID: "send1", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"one","moveToNextNode":true}`)},
			{ID: "send2", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"two","moveToNextNode":false}`)},
		},
		[]schema.Edge{
			{Source: schema.InitialNodeID, Target: "send1"},
			{Source: "send1", Target: "send2"},
		},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hi")))
	assert.Equal(t, []string{"one", "two"}, f.adapter.messages())
}

func TestContinuationCapOnCyclicGraph(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{
			{ID: "a", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"ping","moveToNextNode":true}`)},
			{ID: "b", Type: schema.NodeSendMessage,
				Data: json.RawMessage(`{"message":"pong","moveToNextNode":true}`)},
		},
		[]schema.Edge{
			{Source: schema.InitialNodeID, Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	)

	err := f.engine.RunTurn(context.Background(), flow, testEvent("hi"))
	require.Error(t, err)
	assert.LessOrEqual(t, len(f.adapter.messages()), DefaultMaxSteps)
}

// --- Session lifecycle ---

func TestSuppressThenGate(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "mute", Type: schema.NodeDisableAutoReply,
			Data: json.RawMessage(`{"hours":1}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "mute"}},
	)

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("stop")))

	sess, _ := f.store.Get(context.Background(), sessionKey())
	require.NotNil(t, sess.DisableChat)
	assert.True(t, sess.Disabled(time.Now()))

	// The very next event is gated out.
	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hello?")))
	assert.Empty(t, f.adapter.messages())
}

func TestPositionRepairRestartsSession(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "send1", Type: schema.NodeSendMessage,
			Data: json.RawMessage(`{"message":"Welcome!"}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "send1"}},
	)

	// Session parked on a node the tenant has since deleted.
	require.NoError(t, f.store.Create(context.Background(), &schema.Session{
		TenantID: "t1", FlowID: "f1", Correspondent: "+1555",
		Node:      &schema.Node{ID: "ghost", Type: schema.NodeSendMessage},
		Variables: map[string]any{"stale": true},
	}))

	require.NoError(t, f.engine.RunTurn(context.Background(), flow, testEvent("hi")))

	assert.Equal(t, []string{"Welcome!"}, f.adapter.messages())
	sess, _ := f.store.Get(context.Background(), sessionKey())
	assert.Equal(t, "send1", sess.Node.ID)
	assert.NotContains(t, sess.Variables, "stale")
}

func TestGraphWithoutInitialNodeAbortsTurn(t *testing.T) {
	f := newFixture(t)
	flow := &schema.Flow{
		ID: "f1", TenantID: "t1", ChannelID: "c1", Active: true,
		Graph: schema.FlowGraph{Nodes: []schema.Node{{ID: "orphan", Type: schema.NodeSendMessage}}},
	}

	err := f.engine.RunTurn(context.Background(), flow, testEvent("hi"))
	require.Error(t, err)
	assert.Empty(t, f.adapter.messages())
}

// --- Concurrency invariant: serialized turns, no lost updates ---

func TestConcurrentTurnsSerializePerKey(t *testing.T) {
	f := newFixture(t)
	flow := testFlow(
		[]schema.Node{{ID: "cap", Type: schema.NodeSaveData, Data: json.RawMessage(
			`{"mappings":[{"variable":"last","path":"seq"}]}`)}},
		[]schema.Edge{{Source: schema.InitialNodeID, Target: "cap"}},
	)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := testEvent("msg")
			ev.Payload = map[string]any{"seq": i}
			_ = f.engine.RunTurn(context.Background(), flow, ev)
		}(i)
	}
	wg.Wait()

	sess, err := f.store.Get(context.Background(), sessionKey())
	require.NoError(t, err)
	require.NotNil(t, sess)
	// All turns ran; the surviving value came from one of them intact.
	assert.Contains(t, sess.Variables, "last")
}

func TestKeyLockSerializes(t *testing.T) {
	l := newKeyLock()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.Lock("k")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	l.mu.Lock()
	assert.Empty(t, l.entries)
	l.mu.Unlock()
}

// --- Turn pool ---

func TestTurnPoolRunsAndShutsDown(t *testing.T) {
	p := NewTurnPool(4)
	var count int64
	var mu sync.Mutex

	for i := 0; i < 16; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		}))
	}
	p.Shutdown()

	mu.Lock()
	assert.EqualValues(t, 16, count)
	mu.Unlock()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
	assert.EqualValues(t, 16, p.Metrics().Completed)
}

func TestTurnPoolRecoversPanics(t *testing.T) {
	p := NewTurnPool(1)
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	p.Wait()
	assert.EqualValues(t, 1, p.Metrics().Panics)
}

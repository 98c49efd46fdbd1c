// Package engine orchestrates flow turns: gates, position resolution,
// handler dispatch, and the continuation loop.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/expressions"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
	"github.com/thehassans/WhatsappAutomated-sub000/internal/steps"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

const (
	// DefaultMaxSteps caps handler dispatches per turn; exceeding it is
	// treated as a graph integrity error (cyclic auto-advance).
	DefaultMaxSteps = 25
	// DefaultPacing is the fixed delay between continuation dispatches.
	DefaultPacing = 500 * time.Millisecond
)

// Config tunes the engine. Zero values take the defaults; tests set
// Pacing to a negative value to disable the delay entirely.
type Config struct {
	MaxSteps int
	Pacing   time.Duration
}

// Engine replays inbound events against flow graphs. One Engine serves
// all tenants; per-conversation ordering is enforced internally.
type Engine struct {
	store    session.Store
	registry *steps.Registry
	resolver *expressions.Resolver
	locks    *keyLock
	metrics  *Metrics
	logger   *slog.Logger
	maxSteps int
	pacing   time.Duration
	now      func() time.Time
}

// New creates an Engine.
func New(store session.Store, registry *steps.Registry, resolver *expressions.Resolver, metrics *Metrics, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}
	if pacing < 0 {
		pacing = 0
	}
	return &Engine{
		store:    store,
		registry: registry,
		resolver: resolver,
		locks:    newKeyLock(),
		metrics:  metrics,
		logger:   logger,
		maxSteps: maxSteps,
		pacing:   pacing,
		now:      time.Now,
	}
}

// RunTurn processes one inbound event against one flow. At most one
// turn per (tenant, flow, correspondent) runs at a time; a second event
// for the same conversation blocks here until the first finishes.
func (e *Engine) RunTurn(ctx context.Context, flow *schema.Flow, event *schema.InboundEvent) error {
	key := session.Key{TenantID: flow.TenantID, FlowID: flow.ID, Correspondent: event.Correspondent}
	release := e.locks.Lock(key.TenantID + "/" + key.FlowID + "/" + key.Correspondent)
	defer release()

	ctx = logging.WithIDs(ctx, flow.TenantID, flow.ID, event.Correspondent)
	e.metrics.TurnsStarted.Inc()

	return e.runLocked(ctx, flow, event, key, false)
}

func (e *Engine) runLocked(ctx context.Context, flow *schema.Flow, event *schema.InboundEvent, key session.Key, repaired bool) error {
	log := logging.LogWith(ctx, e.logger)

	sess, err := e.store.Get(ctx, key)
	if err != nil {
		log.Error("session load failed, aborting turn", "error", err.Error())
		return err
	}
	if sess == nil {
		sess, err = e.createSession(ctx, flow, event, key)
		if err != nil {
			log.Error("session creation failed, aborting turn", "error", err.Error())
			return err
		}
	}

	// Disabled gate: wins over everything, including an active AI
	// handoff.
	if sess.Disabled(e.now()) {
		e.metrics.GateDrops.WithLabelValues("disabled").Inc()
		log.Debug("turn dropped by disabled gate", "until", sess.DisableChat.Timestamp)
		return nil
	}

	// AI handoff gate: bypass normal position resolution and route to
	// the bound assistant node.
	if sess.InAITransfer() {
		return e.dispatchLoop(ctx, flow, event, key, sess, sess.AITransfer.Node.ID)
	}

	// Position repair: a session whose node was edited out of the graph
	// is restarted from scratch, once.
	if sess.Node == nil || flow.Graph.NodeByID(sess.Node.ID) == nil {
		if flow.ExternalOnly {
			e.metrics.GateDrops.WithLabelValues("unresolvable").Inc()
			log.Warn("external flow session has no resolvable position, dropping turn")
			return nil
		}
		if repaired {
			e.metrics.GateDrops.WithLabelValues("unresolvable").Inc()
			log.Error("session position unresolvable after repair, dropping turn")
			return schema.NewError(schema.ErrCodeGraph, "session position unresolvable after repair")
		}
		log.Warn("session position no longer exists in graph, restarting session")
		if err := e.store.Delete(ctx, key); err != nil {
			return err
		}
		return e.runLocked(ctx, flow, event, key, true)
	}

	return e.dispatchLoop(ctx, flow, event, key, sess, sess.Node.ID)
}

// createSession seeds a session at the graph's first real step.
func (e *Engine) createSession(ctx context.Context, flow *schema.Flow, event *schema.InboundEvent, key session.Key) (*schema.Session, error) {
	initialID, err := flow.Graph.InitialTarget()
	if err != nil {
		return nil, err
	}
	sess := &schema.Session{
		TenantID:      key.TenantID,
		FlowID:        key.FlowID,
		Correspondent: key.Correspondent,
		Node:          flow.Graph.NodeByID(initialID),
		Variables: map[string]any{
			schema.VarCorrespondent: event.Correspondent,
			schema.VarDisplayName:   event.DisplayName,
		},
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// dispatchLoop runs handlers from the given node until a handler parks
// the turn, the step cap trips, or the graph runs out of road.
func (e *Engine) dispatchLoop(ctx context.Context, flow *schema.Flow, event *schema.InboundEvent, key session.Key, sess *schema.Session, nodeID string) error {
	log := logging.LogWith(ctx, e.logger)
	depth := 0
	defer func() {
		e.metrics.ContinuationDepth.Observe(float64(depth))
		e.metrics.TurnsCompleted.Inc()
	}()

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("turn cancelled", "error", err.Error())
			return err
		}
		depth++
		if depth > e.maxSteps {
			e.metrics.HandlerErrors.WithLabelValues(schema.ErrCodeLoopLimit).Inc()
			log.Error("continuation cap exceeded, stopping turn", "cap", e.maxSteps, "node", nodeID)
			return schema.NewErrorf(schema.ErrCodeLoopLimit, "turn exceeded %d steps at node %s", e.maxSteps, nodeID)
		}

		node := flow.Graph.NodeByID(nodeID)
		if node == nil {
			e.metrics.HandlerErrors.WithLabelValues(schema.ErrCodeGraph).Inc()
			log.Error("node vanished from graph mid-turn", "node", nodeID)
			return schema.NewErrorf(schema.ErrCodeGraph, "node %s not in graph", nodeID)
		}

		handler, err := e.registry.Get(node.Type)
		if err != nil {
			e.metrics.HandlerErrors.WithLabelValues(schema.ErrCodeGraph).Inc()
			log.Error("no handler for node", "node", nodeID, "type", string(node.Type))
			return err
		}

		scope := buildScope(sess, event)
		turn := &steps.Turn{
			Flow:    flow,
			Graph:   &flow.Graph,
			Node:    node,
			Data:    e.resolver.ResolveRaw(ctx, node.Data, scope),
			Session: sess,
			Event:   event,
			Scope:   scope,
		}

		out, err := handler.Handle(ctx, turn)
		if err != nil {
			// Handler failures stall the conversation at its last good
			// position; they never crash the turn loop.
			e.metrics.HandlerErrors.WithLabelValues(errCode(err)).Inc()
			log.Warn("handler failed, turn stalled", "node", nodeID, "type", string(node.Type), "error", err.Error())
			return nil
		}

		patch := out.Patch
		next := ""
		if !out.Stay {
			next = out.NextNodeID
			if next == "" {
				if edge := flow.Graph.FirstEdgeFrom(node.ID); edge != nil {
					next = edge.Target
				}
			}
			if next != "" {
				target := flow.Graph.NodeByID(next)
				if target == nil {
					e.metrics.HandlerErrors.WithLabelValues(schema.ErrCodeGraph).Inc()
					log.Error("edge targets missing node, holding position", "node", nodeID, "target", next)
					next = ""
				} else {
					if patch == nil {
						patch = &session.Patch{}
					}
					patch.Node = target
				}
			}
		}

		if patch != nil {
			if err := e.store.Patch(ctx, key, *patch); err != nil {
				log.Error("session write failed, aborting turn", "error", err.Error())
				return err
			}
			sess, err = e.store.Get(ctx, key)
			if err != nil || sess == nil {
				log.Error("session reload failed, aborting turn")
				return err
			}
		}

		if !out.Advance || next == "" {
			return nil
		}
		nodeID = next

		if e.pacing > 0 {
			select {
			case <-time.After(e.pacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// buildScope assembles the variable scope for one dispatch: captured
// variables first, then the always-present identity fields, then the
// event payload. Later merges win.
func buildScope(sess *schema.Session, event *schema.InboundEvent) map[string]any {
	scope := make(map[string]any, len(sess.Variables)+len(event.Payload)+3)
	for k, v := range sess.Variables {
		scope[k] = v
	}
	scope[schema.VarCorrespondent] = event.Correspondent
	if event.DisplayName != "" {
		scope[schema.VarDisplayName] = event.DisplayName
	}
	scope[schema.VarLastMessage] = event.Text
	for k, v := range event.Payload {
		scope[k] = v
	}
	return scope
}

func errCode(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return "UNKNOWN"
}

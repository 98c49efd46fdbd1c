package engine

import (
	"context"
	"log/slog"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/logging"
	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// FlowSource lists the deployed flows an inbound event can trigger.
type FlowSource interface {
	ActiveFlows(ctx context.Context, tenantID, channelID string) ([]*schema.Flow, error)
}

// Dispatcher is the single entry point for inbound chat events. It fans
// one event out to every matching active flow, each on its own pooled
// goroutine. Fire-and-forget: callers get no result, all side effects
// are internal to the engine.
type Dispatcher struct {
	engine *Engine
	flows  FlowSource
	pool   *TurnPool
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher running turns on the given pool.
func NewDispatcher(engine *Engine, flows FlowSource, pool *TurnPool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		pool = NewTurnPool(64)
	}
	return &Dispatcher{engine: engine, flows: flows, pool: pool, logger: logger}
}

// HandleInboundEvent routes one event to every active flow on its
// (tenant, channel). External-only flows are skipped; they are triggered
// by webhook deliveries, not chat messages.
func (d *Dispatcher) HandleInboundEvent(ctx context.Context, event *schema.InboundEvent) {
	log := logging.LogWith(logging.WithTenantID(ctx, event.TenantID), d.logger)

	flows, err := d.flows.ActiveFlows(ctx, event.TenantID, event.ChannelID)
	if err != nil {
		log.Error("failed to load flows for inbound event", "channel", event.ChannelID, "error", err.Error())
		return
	}

	// Turns outlive the caller (e.g. a webhook handler that already
	// responded 202), so they detach from its cancellation. The submit
	// wait itself still honors it for backpressure.
	turnCtx := context.WithoutCancel(ctx)

	for _, flow := range flows {
		if !flow.Active || flow.ExternalOnly {
			continue
		}
		flow := flow
		err := d.pool.Submit(ctx, func(context.Context) error {
			return d.engine.RunTurn(turnCtx, flow, event)
		})
		if err != nil {
			log.Warn("turn submission rejected", "flow", flow.ID, "error", err.Error())
		}
	}
}

// Shutdown drains in-flight turns.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

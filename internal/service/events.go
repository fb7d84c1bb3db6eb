package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// SettlementNotifier forwards selected events to operators.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, ev domain.SettlementEvent) error
}

// EventPublisher fans committed settlement events out to the signal bus,
// refreshes cached market snapshots and notifies operators. Every failure
// here is logged and swallowed: the operation has already committed.
type EventPublisher struct {
	bus      domain.SignalBus
	markets  domain.MarketStore
	cache    domain.MarketCache
	notifier SettlementNotifier
	logger   *slog.Logger
}

// NewEventPublisher wires an EventPublisher. cache and notifier may be nil.
func NewEventPublisher(
	bus domain.SignalBus,
	markets domain.MarketStore,
	cache domain.MarketCache,
	notifier SettlementNotifier,
	logger *slog.Logger,
) *EventPublisher {
	return &EventPublisher{
		bus:      bus,
		markets:  markets,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// Emit implements settlement.EventSink.
func (p *EventPublisher) Emit(ctx context.Context, events ...domain.SettlementEvent) {
	refreshed := make(map[string]bool)
	for _, ev := range events {
		p.publish(ctx, ev)
		if ev.MarketID != "" && !refreshed[ev.MarketID] {
			refreshed[ev.MarketID] = true
			p.refresh(ctx, ev.MarketID)
		}
		p.notify(ctx, ev)
	}
}

func (p *EventPublisher) publish(ctx context.Context, ev domain.SettlementEvent) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WarnContext(ctx, "event encode failed", slog.String("event_id", ev.ID), slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, domain.SettlementChannel(ev.MarketID), payload); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, domain.SettlementStream, payload); err != nil {
		p.logger.WarnContext(ctx, "event stream append failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *EventPublisher) refresh(ctx context.Context, marketID string) {
	if p.cache == nil {
		return
	}
	m, err := p.markets.GetByID(ctx, marketID)
	if err == nil {
		err = p.cache.Set(ctx, m)
	}
	if err != nil {
		p.logger.WarnContext(ctx, "market cache refresh failed", slog.String("market_id", marketID), slog.String("error", err.Error()))
		_ = p.cache.Invalidate(ctx, marketID)
	}
}

func (p *EventPublisher) notify(ctx context.Context, ev domain.SettlementEvent) {
	if p.notifier == nil {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := p.notifier.NotifySettlement(nctx, ev); err != nil {
			p.logger.WarnContext(nctx, "settlement notification failed",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

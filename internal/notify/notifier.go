// Package notify pushes settlement events to operator chat channels.
// Events are filtered by type so operators only hear about what they asked for.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are forwarded when no filter is configured.
var DefaultEvents = []domain.EventType{
	domain.EventMarketResolved,
	domain.EventMarketCancelled,
	domain.EventFeesDistributed,
	domain.EventMarketSwept,
	domain.EventTreasurySwept,
	domain.EventProtocolUpdated,
}

// Notifier fans a message out to every sender.
type Notifier struct {
	senders  []Sender
	events   map[domain.EventType]bool
	decimals int32
	logger   *slog.Logger
}

// NewNotifier returns a Notifier forwarding the listed event types, or
// DefaultEvents when the list is empty.
func NewNotifier(senders []Sender, events []string, decimals int32, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		decimals: decimals,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// NotifySettlement formats ev and sends it if its type is enabled.
func (n *Notifier) NotifySettlement(ctx context.Context, ev domain.SettlementEvent) error {
	if !n.events[ev.Type] {
		return nil
	}
	title, msg := n.format(ev)
	return n.dispatch(ctx, title, msg)
}

func (n *Notifier) format(ev domain.SettlementEvent) (string, string) {
	title := "polybet: " + strings.ReplaceAll(string(ev.Type), "_", " ")
	var b strings.Builder
	if ev.MarketID != "" {
		fmt.Fprintf(&b, "market %s\n", ev.MarketID)
	}
	if ev.Outcome != nil {
		fmt.Fprintf(&b, "outcome %d\n", *ev.Outcome)
	}
	if ev.User != "" {
		fmt.Fprintf(&b, "by %s\n", ev.User)
	}
	if ev.Amount > 0 {
		fmt.Fprintf(&b, "amount %s\n", payout.Display(ev.Amount, n.decimals))
	}
	fmt.Fprintf(&b, "at %s", ev.At.UTC().Format("2006-01-02 15:04:05Z"))
	return title, b.String()
}

// dispatch tries every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

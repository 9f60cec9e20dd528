// Package notify delivers operator notifications for swap and trigger
// events. Each sender carries its own event filter, so one channel can
// receive only failures while another gets everything.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// route pairs a sender with the event types it wants. An empty set admits
// every event.
type route struct {
	sender Sender
	events map[string]bool
}

func (r route) wants(event string) bool {
	return len(r.events) == 0 || r.events[event]
}

// Notifier fans notifications out to registered senders and bridges the
// swap event channel so terminal failures reach operators without the
// services knowing about delivery channels.
type Notifier struct {
	routes []route
	bus    domain.EventBus
	logger *slog.Logger
}

// NewNotifier creates a Notifier with no senders attached. The bus may be
// nil when only direct notifications are needed.
func NewNotifier(bus domain.EventBus, logger *slog.Logger) *Notifier {
	return &Notifier{
		bus:    bus,
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// Register attaches a sender. The events list filters what the sender
// receives; registering with no events forwards every event type.
func (n *Notifier) Register(s Sender, events ...string) {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = true
		}
	}
	n.routes = append(n.routes, route{sender: s, events: allowed})
}

// Notify delivers the title and message to every sender whose filter admits
// the event type. Errors from individual senders are collected and returned
// as a combined error; a single sender failure does not prevent delivery to
// the remaining senders.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	var errs []string
	for _, r := range n.routes {
		if !r.wants(event) {
			n.logger.DebugContext(ctx, "event filtered out",
				slog.String("sender", r.sender.Name()),
				slog.String("event", event),
			)
			continue
		}
		if err := r.sender.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", r.sender.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", r.sender.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", r.sender.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// PriceAlertFired formats and delivers a fired price alert, then announces
// it on the trigger channel for WebSocket subscribers.
func (n *Notifier) PriceAlertFired(ctx context.Context, cond domain.TriggerCondition, price string) error {
	title := "Price alert fired"
	message := fmt.Sprintf("%s is %s %s (last price %s)",
		cond.Token, cond.Comparison, cond.TargetPrice, price)

	err := n.Notify(ctx, domain.EventTriggerFired, title, message)
	n.announce(ctx, domain.BusEvent{
		Type:        domain.EventTriggerFired,
		TriggerID:   cond.ID,
		UserAddress: cond.UserAddress,
		Detail: map[string]any{
			"kind":         string(cond.Kind),
			"token":        cond.Token,
			"comparison":   string(cond.Comparison),
			"target_price": cond.TargetPrice,
			"price":        price,
		},
		At: time.Now().UTC(),
	})
	return err
}

// announce publishes the event on the trigger channel. The alert itself was
// already delivered, so a publish failure degrades to a warning.
func (n *Notifier) announce(ctx context.Context, ev domain.BusEvent) {
	if n.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := n.bus.Publish(ctx, domain.ChannelTriggers, payload); err != nil {
		n.logger.WarnContext(ctx, "trigger announce failed",
			slog.String("trigger_id", ev.TriggerID),
			slog.String("error", err.Error()),
		)
	}
}

// Run bridges the swap event channel to the senders until ctx is cancelled.
// Only terminal failures are forwarded; routine lifecycle events would be
// noise at notification volume.
func (n *Notifier) Run(ctx context.Context) error {
	if n.bus == nil {
		return nil
	}
	msgs, err := n.bus.Subscribe(ctx, domain.ChannelSwaps)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelSwaps, err)
	}
	n.logger.InfoContext(ctx, "watching swap events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			n.handleBusEvent(ctx, payload)
		}
	}
}

// handleBusEvent forwards swap failures to the senders. Unparseable frames
// and non-failure events are dropped.
func (n *Notifier) handleBusEvent(ctx context.Context, payload []byte) {
	var ev domain.BusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.Type != domain.EventSwapFailed {
		return
	}
	reason := "unknown"
	if r, ok := ev.Detail["reason"].(string); ok && r != "" {
		reason = r
	}
	title := "Swap failed"
	message := fmt.Sprintf("Swap %s for %s failed: %s", ev.SwapID, ev.UserAddress, reason)
	if err := n.Notify(ctx, domain.EventSwapFailed, title, message); err != nil {
		n.logger.WarnContext(ctx, "failure notice undelivered",
			slog.String("swap_id", ev.SwapID),
			slog.String("error", err.Error()),
		)
	}
}

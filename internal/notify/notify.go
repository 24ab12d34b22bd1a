// Package notify delivers best-effort ops alerts for mission failures and
// schedule errors. Delivery problems are logged, never returned into the
// dispatch path.
package notify

import (
	"context"
	"log"

	"github.com/zulandar/amrbridge/internal/config"
)

// Alert is one operator-facing notification.
type Alert struct {
	Title string
	Body  string
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Send delivers an alert, logging failure instead of surfacing it.
func Send(ctx context.Context, n Notifier, alert Alert) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, alert); err != nil {
		log.Printf("notify: %s: %v", n.Name(), err)
	}
}

// Fanout delivers every alert to all configured destinations.
type Fanout struct {
	targets []Notifier
}

var _ Notifier = (*Fanout)(nil)

// NewFanout builds a Fanout over the non-nil targets.
func NewFanout(targets ...Notifier) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

// Send delivers to every target; individual failures are logged and the
// remaining targets still receive the alert.
func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	for _, t := range f.targets {
		Send(ctx, t, alert)
	}
	return nil
}

func (f *Fanout) Name() string { return "fanout" }

// Targets reports how many destinations are configured.
func (f *Fanout) Targets() int { return len(f.targets) }

// FromConfig builds the configured notifier set. Returns nil when nothing
// is configured, which callers treat as alerts-off.
func FromConfig(cfg config.NotifyConfig) Notifier {
	var targets []Notifier
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		targets = append(targets, NewSlack(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannel != "" {
		d, err := NewDiscord(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			log.Printf("notify: discord setup: %v", err)
		} else {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return NewFanout(targets...)
}

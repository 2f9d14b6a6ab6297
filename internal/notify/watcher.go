package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quantfall/helix/internal/domain"
)

// Subscriber is the status bus surface the watcher consumes.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Watcher listens on the status bus and alerts operators on halt transitions.
// It is deliberately decoupled from the engine: it reacts to the same status
// snapshots the dashboard sees, so it also works in server mode where the
// engine runs in another process.
type Watcher struct {
	bus      Subscriber
	channel  string
	notifier *Notifier
	logger   *slog.Logger

	last domain.EngineState
}

// NewWatcher creates a Watcher over the given status channel.
func NewWatcher(bus Subscriber, channel string, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify.watcher")),
	}
}

// Run consumes status snapshots until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, w.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", w.channel, err)
	}

	w.logger.InfoContext(ctx, "halt watcher started",
		slog.String("channel", w.channel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, payload []byte) {
	var snap domain.StatusSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		w.logger.WarnContext(ctx, "undecodable status payload",
			slog.String("error", err.Error()),
		)
		return
	}

	prev := w.last
	w.last = snap.State

	switch {
	case snap.State == domain.EngineHalted && prev != domain.EngineHalted:
		detail := "no error recorded"
		if snap.LastError != nil {
			detail = snap.LastError.Message
		}
		_ = w.notifier.Notify(ctx, EventHalt, "Trading halted",
			fmt.Sprintf("cycle %d: %s", snap.Cycle, detail))
	case prev == domain.EngineHalted && snap.State != domain.EngineHalted:
		_ = w.notifier.Notify(ctx, EventResume, "Halt cleared",
			fmt.Sprintf("engine running again at cycle %d", snap.Cycle))
	}
}

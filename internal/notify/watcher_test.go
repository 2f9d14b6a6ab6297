package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
)

type captureSender struct {
	titles []string
	bodies []string
}

func (s *captureSender) Send(_ context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

func snapshotPayload(t *testing.T, snap domain.StatusSnapshot) []byte {
	t.Helper()
	payload, err := json.Marshal(snap)
	require.NoError(t, err)
	return payload
}

func TestWatcherAlertsOnHaltTransition(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier([]Sender{sender}, nil, slog.Default())
	w := NewWatcher(nil, "status", notifier, slog.Default())

	ctx := context.Background()

	// Normal cycles produce no alerts.
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineIdle, Cycle: 1}))
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineSettling, Cycle: 2}))
	assert.Empty(t, sender.titles)

	// Entering halted fires once, with the recorded error.
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{
		State: domain.EngineHalted,
		Cycle: 3,
		LastError: &domain.ErrorRecord{
			Kind:    "reconcile",
			Message: "venue balance diverged",
		},
	}))
	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Trading halted", sender.titles[0])
	assert.Contains(t, sender.bodies[0], "venue balance diverged")

	// Staying halted does not repeat the alert.
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineHalted, Cycle: 4}))
	assert.Len(t, sender.titles, 1)

	// Clearing the halt fires the resume alert.
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineIdle, Cycle: 5}))
	require.Len(t, sender.titles, 2)
	assert.Equal(t, "Halt cleared", sender.titles[1])
}

func TestWatcherRespectsEventFilter(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier([]Sender{sender}, []string{"halt"}, slog.Default())
	w := NewWatcher(nil, "status", notifier, slog.Default())

	ctx := context.Background()
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineHalted, Cycle: 1}))
	w.handle(ctx, snapshotPayload(t, domain.StatusSnapshot{State: domain.EngineIdle, Cycle: 2}))

	// Only the halt alert passes the filter; resume is dropped.
	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Trading halted", sender.titles[0])
}

func TestWatcherIgnoresGarbagePayloads(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier([]Sender{sender}, nil, slog.Default())
	w := NewWatcher(nil, "status", notifier, slog.Default())

	w.handle(context.Background(), []byte("not json"))
	assert.Empty(t, sender.titles)
}

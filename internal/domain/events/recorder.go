package events

import (
	"context"
	"sync"
	"time"

	"github.com/outcomesignal/entitlements-api/internal/types"
	"github.com/outcomesignal/entitlements-api/pkg/interceptors"
)

var _ Sink = (*Recorder)(nil)

// Recorder is an in-memory Sink that keeps every event, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) PaywallShown(ctx context.Context, reason TriggerReason) {
	r.record(ctx, PaywallShown, reason, nil)
}

func (r *Recorder) PaywallDismissed(ctx context.Context, reason TriggerReason) {
	r.record(ctx, PaywallDismissed, reason, nil)
}

func (r *Recorder) PlanSelected(ctx context.Context, tier types.Tier, reason TriggerReason) {
	r.record(ctx, PlanSelected, reason, &tier)
}

// Publish lets a Recorder stand in as an Emitter backend.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) record(ctx context.Context, name Name, reason TriggerReason, tier *types.Tier) {
	userID, _ := interceptors.UserIDFromContext(ctx)
	ev := newEvent(name, reason, tier, userID, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

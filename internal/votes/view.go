package votes

import (
	"context"
	"sync"

	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/model"
)

// CountSource supplies the authoritative count for a target.
// Implemented by repository.VoteRepository.
type CountSource interface {
	Count(ctx context.Context, targetID string) (int, error)
}

// View is a materialized vote count fed by the realtime stream: targets are
// seeded from the source on first read, then reconciled from events. Counts
// are eventually consistent with the store; UPDATE events refetch instead of
// guessing a delta.
type View struct {
	mu      sync.Mutex
	counter *Counter
	source  CountSource
	seeded  map[string]bool
}

func NewView(source CountSource) *View {
	return &View{
		counter: NewCounter(""),
		source:  source,
		seeded:  make(map[string]bool),
	}
}

// Count returns the reconciled count for a target, seeding it from the
// source on first access.
func (v *View) Count(ctx context.Context, targetID string) (int, error) {
	v.mu.Lock()
	seeded := v.seeded[targetID]
	v.mu.Unlock()
	if !seeded {
		return v.refetch(ctx, targetID)
	}
	return v.counter.Count(targetID), nil
}

// HandleEvent applies one realtime vote event. Unmaterialized targets are
// ignored; the next Count seeds them from the source anyway.
func (v *View) HandleEvent(ctx context.Context, ev model.VoteEvent) {
	v.mu.Lock()
	seeded := v.seeded[ev.TargetID]
	v.mu.Unlock()
	if !seeded {
		return
	}
	if refetch := v.counter.Apply(ev); refetch {
		if _, err := v.refetch(ctx, ev.TargetID); err != nil {
			logger.Errorf("votes: refetch %s: %v", ev.TargetID, err)
			v.invalidate(ev.TargetID)
		}
	}
}

func (v *View) refetch(ctx context.Context, targetID string) (int, error) {
	count, err := v.source.Count(ctx, targetID)
	if err != nil {
		return 0, err
	}
	v.counter.Seed(targetID, count, 0)
	v.mu.Lock()
	v.seeded[targetID] = true
	v.mu.Unlock()
	return count, nil
}

// invalidate drops a target from the materialized set so a failed refetch
// does not leave a stale count served forever.
func (v *View) invalidate(targetID string) {
	v.mu.Lock()
	delete(v.seeded, targetID)
	v.mu.Unlock()
}

package alerting

import (
	"context"
	"sync"
	"time"
)

// Throttled drops notifications for a token sent again within Cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottled wraps next with a per-token cooldown.
func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{next: next, cooldown: cooldown, now: time.Now, last: make(map[string]time.Time)}
}

// Notify forwards note unless the token alerted recently. A failed delivery
// does not start the cooldown.
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[note.Token]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		return nil
	}
	t.last[note.Token] = now
	t.mu.Unlock()

	if err := t.next.Notify(ctx, note); err != nil {
		t.mu.Lock()
		delete(t.last, note.Token)
		t.mu.Unlock()
		return err
	}
	return nil
}

var _ Notifier = (*Throttled)(nil)

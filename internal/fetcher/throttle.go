package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Throttle holds every download back while the archive host has asked
// clients to slow down (429/503 with Retry-After). It is shared by all
// workers of a stage.
type Throttle struct {
	mu       sync.Mutex
	now      func() time.Time
	cooldown time.Time
	notifyCh chan struct{}
}

func NewThrottle() *Throttle {
	return &Throttle{
		now:      time.Now,
		notifyCh: make(chan struct{}),
	}
}

// Until returns the end of the current cooldown (zero when none was observed).
func (t *Throttle) Until() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cooldown
}

// Wait blocks until no cooldown is active or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("Wait: nil context")
	}
	if t == nil {
		return nil
	}
	if t.now == nil || t.notifyCh == nil {
		return fmt.Errorf("Wait: Throttle not initialized (use NewThrottle)")
	}

	for {
		t.mu.Lock()
		now := t.now()
		if !now.Before(t.cooldown) {
			t.mu.Unlock()
			return ctx.Err()
		}
		wait := t.cooldown.Sub(now)
		ch := t.notifyCh
		t.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (t *Throttle) signalLocked() {
	close(t.notifyCh)
	t.notifyCh = make(chan struct{})
}

// Observe extends the cooldown from the Retry-After header of resp. Both the
// delay-seconds and the HTTP-date forms are accepted. A shorter value never
// shortens an active cooldown.
func (t *Throttle) Observe(resp *http.Response) {
	if t == nil || resp == nil || t.now == nil {
		return
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var until time.Time
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return
		}
		until = now.Add(time.Duration(seconds) * time.Second)
	} else if at, err := http.ParseTime(raw); err == nil {
		until = at
	} else {
		return
	}

	if until.After(t.cooldown) && until.After(now) {
		t.cooldown = until
		t.signalLocked()
	}
}

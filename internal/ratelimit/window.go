package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window rate limiter keyed by caller-chosen strings.
// The zero value is not usable, construct with NewWindow.
type Window struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	// keys that already fired OnFirstDenied, cleared on reset and on sweep
	denied map[string]struct{}

	now       func() time.Time
	retention time.Duration

	onDenied      func(key string)
	onFirstDenied func(key string)
}

type WindowOption func(*Window)

// WithClock replaces time.Now, for tests and simulated time.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// WithRetention sets how long accepted requests are remembered by the sweep.
// Non-positive values are ignored.
func WithRetention(d time.Duration) WindowOption {
	return func(w *Window) {
		if d > 0 {
			w.retention = d
		}
	}
}

// WithOnDenied is called on every rejected check, outside the lock.
func WithOnDenied(fn func(key string)) WindowOption {
	return func(w *Window) { w.onDenied = fn }
}

// WithOnFirstDenied is called once per key when it first gets rejected, used
// for logging without log spam. It fires again after the key is reset or swept.
func WithOnFirstDenied(fn func(key string)) WindowOption {
	return func(w *Window) { w.onFirstDenied = fn }
}

// NewWindow returns an empty limiter.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{
		hits:      make(map[string][]time.Time),
		denied:    make(map[string]struct{}),
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Check reports whether a request for key is allowed under p and records it if so.
// Only timestamps strictly newer than now-p.Interval count against the policy.
func (w *Window) Check(key string, p Policy) bool {
	w.mu.Lock()
	now := w.now()
	windowStart := now.Add(-p.Interval)

	stored := w.hits[key]
	n := 0
	for _, t := range stored {
		if t.After(windowStart) {
			n++
		}
	}

	if n >= p.MaxRequests {
		_, seen := w.denied[key]
		if !seen {
			w.denied[key] = struct{}{}
		}
		w.mu.Unlock()

		if !seen && w.onFirstDenied != nil {
			w.onFirstDenied(key)
		}
		if w.onDenied != nil {
			w.onDenied(key)
		}
		return false
	}

	recent := make([]time.Time, 0, n+1)
	for _, t := range stored {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	w.hits[key] = append(recent, now)
	w.sweepLocked(now)
	w.mu.Unlock()
	return true
}

// Reset forgets everything recorded for key. Unknown keys are a no-op.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	delete(w.hits, key)
	delete(w.denied, key)
	w.mu.Unlock()
}

// Len returns the number of timestamps currently stored for key.
func (w *Window) Len(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits[key])
}

// Keys returns the number of keys currently holding history.
func (w *Window) Keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// Sweep drops timestamps older than the retention ceiling and deletes keys
// left empty. Check already does this; Sweep is for the janitor.
func (w *Window) Sweep() {
	w.mu.Lock()
	w.sweepLocked(w.now())
	w.mu.Unlock()
}

func (w *Window) sweepLocked(now time.Time) {
	for key, ts := range w.hits {
		keep := 0
		for _, t := range ts {
			if now.Sub(t) < w.retention {
				keep++
			}
		}
		switch {
		case keep == 0:
			delete(w.hits, key)
			delete(w.denied, key)
		case keep < len(ts):
			kept := make([]time.Time, 0, keep)
			for _, t := range ts {
				if now.Sub(t) < w.retention {
					kept = append(kept, t)
				}
			}
			w.hits[key] = kept
		}
	}
}

// StartJanitor sweeps every interval until ctx is done, so idle processes
// still release memory. every <= 0 uses half the retention.
func (w *Window) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = w.retention / 2
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.Sweep()
			}
		}
	}()
}

// Allow implements Checker.
func (w *Window) Allow(_ context.Context, key string, p Policy) bool {
	return w.Check(key, p)
}

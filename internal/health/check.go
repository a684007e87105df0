package health

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Probe is evaluated at request time. nil = OK, non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Up always passes. Liveness uses it: a process that can answer is alive.
func Up() CheckFunc {
	return func(context.Context) error { return nil }
}

// Down always fails with reason, "unhealthy" when empty.
func Down(reason string) CheckFunc {
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// Failures is what All returns when one or more checks fail, in argument order.
type Failures []error

func (f Failures) Error() string {
	parts := make([]string, len(f))
	for i, err := range f {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (f Failures) Unwrap() []error { return f }

// All runs every non-nil check concurrently and passes only when all of them
// do, so a slow redis ping does not hide a closed shutdown gate.
func All(ps ...Probe) CheckFunc {
	live := make([]Probe, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			live = append(live, p)
		}
	}
	return func(ctx context.Context) error {
		errs := make([]error, len(live))
		var wg sync.WaitGroup
		for i, p := range live {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = p.Check(ctx)
			}()
		}
		wg.Wait()

		var failed Failures
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
			}
		}
		if len(failed) == 0 {
			return nil
		}
		return failed
	}
}

// Pinger is anything with a cheap round trip, the redis client adapts to it in main.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a dependency with a bounded timeout and prefixes failures with name.
// A nil pinger means the dependency is not configured and always passes.
func Ping(name string, p Pinger, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := p.Ping(ctx); err != nil {
			return xerrors.Wrapf(err, "%s", name)
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set so the load balancer drains the
// instance before the listeners close. The zero value is open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate, reason defaults to "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() { g.reason.Store(nil) }

func (g *ShutdownGate) Check(context.Context) error {
	if r := g.reason.Load(); r != nil {
		return xerrors.New(*r)
	}
	return nil
}

// Package capability resolves, once per process, whether casting is
// available at all.
package capability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Capability is the process-wide casting capability.
type Capability int

const (
	Unknown Capability = iota
	Unsupported
	Available
)

func (c Capability) String() string {
	switch c {
	case Unsupported:
		return "unsupported"
	case Available:
		return "available"
	default:
		return "unknown"
	}
}

// DefaultTimeout bounds how long the guard waits for the runtime to announce itself.
const DefaultTimeout = 10 * time.Second

// Runtime is the casting runtime's readiness surface.
type Runtime interface {
	// Probe inspects the runtime directly and reports whether it is already
	// usable. It catches runtimes that announced themselves before anyone
	// was listening.
	Probe() bool
	// OnReady registers fn to be called once when the runtime announces
	// itself. The returned func unregisters fn.
	OnReady(fn func(available bool)) (unregister func())
}

// Guard resolves a Capability exactly once. Concurrent Await calls share a
// single in-flight probe.
type Guard struct {
	runtime Runtime
	timeout time.Duration
	logger  zerolog.Logger
	observe func(Capability)

	group singleflight.Group

	mu       sync.Mutex
	resolved Capability
	closed   chan struct{}
	closeOne sync.Once
}

// Option configures a Guard.
type Option func(*Guard)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithObserver is called once with the resolved capability.
func WithObserver(fn func(Capability)) Option {
	return func(g *Guard) { g.observe = fn }
}

// NewGuard returns a Guard over runtime. A nil runtime resolves to Unsupported.
func NewGuard(runtime Runtime, opts ...Option) *Guard {
	g := &Guard{
		runtime: runtime,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Current returns the capability without blocking. It is Unknown until the
// first probe resolves.
func (g *Guard) Current() Capability {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolved
}

// Await returns the resolved capability, starting the probe on first use.
// It never fails: a timeout resolves to Unsupported. If ctx ends first the
// caller gets Unknown while the shared probe keeps running.
func (g *Guard) Await(ctx context.Context) Capability {
	if c := g.Current(); c != Unknown {
		return c
	}

	ch := g.group.DoChan("capability", func() (any, error) {
		if c := g.Current(); c != Unknown {
			return c, nil
		}
		return g.settle(g.probe()), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Capability)
	case <-ctx.Done():
		return Unknown
	}
}

// Close cancels a pending probe; it resolves to Unsupported.
func (g *Guard) Close() {
	g.closeOne.Do(func() { close(g.closed) })
}

func (g *Guard) probe() Capability {
	if g.runtime == nil {
		g.logger.Debug().Str("Method", "probe").Msg("no casting runtime configured")
		return Unsupported
	}

	ready := make(chan bool, 1)
	unregister := g.runtime.OnReady(func(available bool) {
		select {
		case ready <- available:
		default:
		}
	})
	defer func() {
		if unregister != nil {
			unregister()
		}
	}()

	// The ready notification fires only once; if it already fired the live
	// runtime is all that is left to look at.
	if g.runtime.Probe() {
		g.logger.Debug().Str("Method", "probe").Msg("runtime already initialised")
		return Available
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case available := <-ready:
		g.logger.Debug().Str("Method", "probe").Bool("Available", available).Msg("runtime ready signal")
		if available {
			return Available
		}
		return Unsupported
	case <-timer.C:
		g.logger.Debug().Str("Method", "probe").Dur("Timeout", g.timeout).Msg("runtime did not announce itself")
		return Unsupported
	case <-g.closed:
		g.logger.Debug().Str("Method", "probe").Msg("guard closed while probing")
		return Unsupported
	}
}

func (g *Guard) settle(c Capability) Capability {
	g.mu.Lock()
	if g.resolved != Unknown {
		c = g.resolved
		g.mu.Unlock()
		return c
	}
	g.resolved = c
	g.mu.Unlock()

	g.logger.Info().Str("Capability", c.String()).Msg("casting capability resolved")
	if g.observe != nil {
		g.observe(c)
	}
	return c
}

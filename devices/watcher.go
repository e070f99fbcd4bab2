package devices

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// Faster polling while cache is empty for quick first discovery
	pollIntervalFast = 1 * time.Second
	// Slower polling once at least one device is known to reduce network load
	pollIntervalSlow = 4 * time.Second
	healthInterval   = 5 * time.Second
	defaultSSDPDelay = 1
)

// Watcher keeps a cache of receivers found by background Chromecast mDNS and
// DLNA SSDP discovery. It doubles as the casting runtime whose readiness the
// capability guard waits for: the runtime is ready once a receiver is seen.
type Watcher struct {
	Logger zerolog.Logger
	// SSDPDelay is the SSDP MX wait in seconds.
	SSDPDelay int

	mu        sync.Mutex
	cast      map[string]castDevice
	dlna      map[string]Device
	listeners map[int]func(bool)
	nextID    int
	announced bool
	started   bool
}

// NewWatcher returns an idle Watcher; call Start to begin discovery.
func NewWatcher() *Watcher {
	return &Watcher{
		Logger:    zerolog.Nop(),
		SSDPDelay: defaultSSDPDelay,
		cast:      make(map[string]castDevice),
		dlna:      make(map[string]Device),
		listeners: make(map[int]func(bool)),
	}
}

// Start runs discovery and health checking until ctx is canceled. Calling it
// again is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.discoverLoop(ctx)
	go w.healthLoop(ctx)
}

// Probe reports whether at least one receiver is cached.
func (w *Watcher) Probe() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cast)+len(w.dlna) > 0
}

// OnReady registers fn to run when the first receiver is discovered.
func (w *Watcher) OnReady(fn func(available bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Devices returns the cached receivers in name order.
func (w *Watcher) Devices() []Device {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Device, 0, len(w.cast)+len(w.dlna))
	for addr, d := range w.cast {
		out = append(out, Device{
			ID:          d.ID,
			Name:        d.Name,
			Addr:        addr,
			Type:        DeviceTypeChromecast,
			IsAudioOnly: d.IsAudioOnly,
		})
	}
	for _, d := range w.dlna {
		out = append(out, d)
	}

	sortDevices(out)
	return out
}

// Scan runs one Chromecast and one DLNA discovery round in parallel and
// returns the merged cache.
func (w *Watcher) Scan(ctx context.Context) ([]Device, error) {
	if err := w.poll(ctx); err != nil {
		return nil, err
	}

	devs := w.Devices()
	if len(devs) == 0 {
		return nil, ErrNoDeviceAvailable
	}
	return devs, nil
}

func (w *Watcher) poll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		queryChromecasts(chromecastQueryTimeout, w.upsertCast)
		return nil
	})

	g.Go(func() error {
		found, err := LoadSSDPservices(gctx, w.SSDPDelay, w.knownLocations())
		if err != nil {
			w.Logger.Debug().Str("Method", "poll").Err(err).Msg("ssdp round")
			return nil
		}
		w.upsertDLNA(found)
		return nil
	})

	_ = g.Wait()
	return ctx.Err()
}

func (w *Watcher) discoverLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := w.poll(ctx); err != nil {
			return
		}

		interval := pollIntervalFast
		if w.Probe() {
			interval = pollIntervalSlow
		}
		timer.Reset(interval)
	}
}

// healthLoop drops cached receivers that stopped accepting connections.
func (w *Watcher) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkHealth()
		}
	}
}

func (w *Watcher) checkHealth() {
	w.mu.Lock()
	castAddrs := make([]string, 0, len(w.cast))
	for addr := range w.cast {
		castAddrs = append(castAddrs, addr)
	}
	dlnaLocs := make([]string, 0, len(w.dlna))
	for loc := range w.dlna {
		dlnaLocs = append(dlnaLocs, loc)
	}
	w.mu.Unlock()

	var deadCast, deadDLNA []string
	for _, addr := range castAddrs {
		if !hostPortIsAlive(addr) {
			deadCast = append(deadCast, addr)
		}
	}
	for _, loc := range dlnaLocs {
		if !hostPortIsAlive(locationHostPort(loc)) {
			deadDLNA = append(deadDLNA, loc)
		}
	}

	if len(deadCast)+len(deadDLNA) == 0 {
		return
	}

	w.mu.Lock()
	for _, addr := range deadCast {
		delete(w.cast, addr)
	}
	for _, loc := range deadDLNA {
		delete(w.dlna, loc)
	}
	w.mu.Unlock()

	w.Logger.Debug().Str("Method", "checkHealth").Int("Removed", len(deadCast)+len(deadDLNA)).Msg("dropped stale receivers")
}

func (w *Watcher) upsertCast(entry *mdns.ServiceEntry) {
	addr, dev, ok := castDeviceFromEntry(entry)
	if !ok {
		return
	}

	w.mu.Lock()
	w.cast[addr] = dev
	w.mu.Unlock()

	w.announce()
}

func (w *Watcher) upsertDLNA(found []Device) {
	if len(found) == 0 {
		return
	}

	w.mu.Lock()
	for _, d := range found {
		w.dlna[d.Addr] = d
	}
	w.mu.Unlock()

	w.announce()
}

func (w *Watcher) knownLocations() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	known := make(map[string]bool, len(w.dlna))
	for loc := range w.dlna {
		known[loc] = true
	}
	return known
}

// announce fires the ready listeners the first time the cache is non-empty.
func (w *Watcher) announce() {
	w.mu.Lock()
	if w.announced || len(w.cast)+len(w.dlna) == 0 {
		w.mu.Unlock()
		return
	}
	w.announced = true
	fns := make([]func(bool), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	w.Logger.Debug().Str("Method", "announce").Int("Listeners", len(fns)).Msg("first receiver discovered")
	for _, fn := range fns {
		fn(true)
	}
}

func locationHostPort(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

// Package monitor watches the playback position for skippable segments and
// runs the end-of-item autoplay countdown.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultThreshold is how close to the end, in seconds, the countdown arms.
	DefaultThreshold = 30.0
	// DefaultCountdownMax caps the countdown length in seconds.
	DefaultCountdownMax = 30
)

// EventType identifies a monitor event.
type EventType int

const (
	SkipAvailable EventType = iota
	SkipCleared
	CountdownStarted
	CountdownTick
	CountdownCancelled
	Advance
)

func (t EventType) String() string {
	switch t {
	case SkipAvailable:
		return "skip-available"
	case SkipCleared:
		return "skip-cleared"
	case CountdownStarted:
		return "countdown-started"
	case CountdownTick:
		return "countdown-tick"
	case CountdownCancelled:
		return "countdown-cancelled"
	case Advance:
		return "advance"
	}
	return "unknown"
}

// Event is emitted to the handler. Kind is set on skip events, Seconds on
// CountdownStarted and CountdownTick.
type Event struct {
	Type    EventType
	Kind    Kind
	Seconds int
}

// Item is what the monitor needs to know about the playing item.
type Item struct {
	Segments []Segment
	HasNext  bool
}

// Ticker is the part of time.Ticker the countdown uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc starts a ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFunc.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Monitor is driven by Observe samples and its own countdown ticker.
// Handlers run outside the monitor lock and may call back into it.
type Monitor struct {
	handler   func(Event)
	threshold float64
	max       int
	newTicker TickerFunc
	logger    zerolog.Logger

	// emitMu is held from deciding on events until they are delivered, so
	// the handler sees them in decision order. Handlers must not call back
	// into the Monitor.
	emitMu sync.Mutex

	mu         sync.Mutex
	segments   []Segment
	segmentsOK bool
	active     int
	skipped    int
	hasNext    bool
	dismissed  bool
	advanced   bool
	running    bool
	remaining  int
	countdown  uint64
	stop       chan struct{}
	closed     bool
	wg         sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThreshold sets how close to the end the countdown arms.
func WithThreshold(seconds float64) Option {
	return func(m *Monitor) {
		if seconds > 0 {
			m.threshold = seconds
		}
	}
}

// WithCountdownMax caps the countdown.
func WithCountdownMax(seconds int) Option {
	return func(m *Monitor) {
		if seconds > 0 {
			m.max = seconds
		}
	}
}

// WithTicker replaces the one-second countdown ticker.
func WithTicker(fn TickerFunc) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.newTicker = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New returns a Monitor with no item. handler may be nil.
func New(handler func(Event), opts ...Option) *Monitor {
	if handler == nil {
		handler = func(Event) {}
	}
	m := &Monitor{
		handler:   handler,
		threshold: DefaultThreshold,
		max:       DefaultCountdownMax,
		newTicker: NewTimeTicker,
		logger:    zerolog.Nop(),
		active:    -1,
		skipped:   -1,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetItem resets all state for a new item. Inverted or overlapping segments
// disable segment detection for the item; the countdown still works.
func (m *Monitor) SetItem(item Item) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	var evs []Event
	if m.active >= 0 {
		evs = append(evs, Event{Type: SkipCleared, Kind: m.segments[m.active].Kind})
	}
	if m.running {
		evs = append(evs, Event{Type: CountdownCancelled})
	}
	m.stopCountdownLocked()

	segs, err := normalizeSegments(item.Segments)
	m.segments = segs
	m.segmentsOK = err == nil
	m.active = -1
	m.skipped = -1
	m.hasNext = item.HasNext
	m.dismissed = false
	m.advanced = false
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn().Str("Method", "SetItem").Err(err).Msg("segment detection disabled for item")
	}
	m.dispatch(evs)
	return err
}

// Observe feeds one position sample, in seconds.
func (m *Monitor) Observe(current, duration float64) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var evs []Event
	if m.segmentsOK {
		evs = m.observeSegmentsLocked(current, evs)
	}
	evs = m.observeCountdownLocked(current, duration, evs)
	m.mu.Unlock()

	m.dispatch(evs)
}

func (m *Monitor) observeSegmentsLocked(current float64, evs []Event) []Event {
	idx := -1
	for i, s := range m.segments {
		if s.contains(current) {
			idx = i
			break
		}
	}

	if m.skipped >= 0 {
		if idx == m.skipped {
			idx = -1
		} else {
			m.skipped = -1
		}
	}

	if idx == m.active {
		return evs
	}
	if m.active >= 0 {
		evs = append(evs, Event{Type: SkipCleared, Kind: m.segments[m.active].Kind})
	}
	if idx >= 0 {
		evs = append(evs, Event{Type: SkipAvailable, Kind: m.segments[idx].Kind})
	}
	m.active = idx
	return evs
}

func (m *Monitor) observeCountdownLocked(current, duration float64, evs []Event) []Event {
	if duration <= 0 || !m.hasNext || m.dismissed || m.advanced {
		return evs
	}

	remaining := duration - current
	switch {
	case remaining > m.threshold:
		if m.running {
			// Seeked back out of the tail; the countdown may arm again.
			m.stopCountdownLocked()
			evs = append(evs, Event{Type: CountdownCancelled})
		}
	case remaining <= 0 && !m.running:
		// Jumped past the tail without a countdown.
		m.advanced = true
		evs = append(evs, Event{Type: Advance})
	case remaining > 0 && !m.running:
		secs := int(math.Ceil(remaining))
		if secs > m.max {
			secs = m.max
		}
		m.startCountdownLocked(secs)
		evs = append(evs, Event{Type: CountdownStarted, Seconds: secs})
	}
	return evs
}

// SkipTarget returns where Skip would seek to without clearing anything.
func (m *Monitor) SkipTarget() (seekTo float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active < 0 {
		return 0, false
	}
	return m.segments[m.active].End, true
}

// Skip clears the active segment and returns where to seek to.
func (m *Monitor) Skip() (seekTo float64, ok bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.active < 0 {
		m.mu.Unlock()
		return 0, false
	}
	seg := m.segments[m.active]
	m.skipped = m.active
	m.active = -1
	m.mu.Unlock()

	m.dispatch([]Event{{Type: SkipCleared, Kind: seg.Kind}})
	return seg.End, true
}

// Dismiss cancels the countdown and suppresses autoplay for the rest of the item.
func (m *Monitor) Dismiss() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	m.dismissed = true
	var evs []Event
	if m.running {
		m.stopCountdownLocked()
		evs = append(evs, Event{Type: CountdownCancelled})
	}
	m.mu.Unlock()

	m.dispatch(evs)
}

// tick returns false once countdown id is over.
func (m *Monitor) tick(id uint64) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if !m.running || id != m.countdown {
		m.mu.Unlock()
		return false
	}

	m.remaining--
	var ev Event
	more := m.remaining > 0
	if more {
		ev = Event{Type: CountdownTick, Seconds: m.remaining}
	} else {
		m.stopCountdownLocked()
		m.advanced = true
		ev = Event{Type: Advance}
	}
	m.mu.Unlock()

	m.dispatch([]Event{ev})
	return more
}

// Close stops the countdown ticker. Later samples are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopCountdownLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) startCountdownLocked(secs int) {
	m.countdown++
	m.running = true
	m.remaining = secs

	stop := make(chan struct{})
	m.stop = stop
	t := m.newTicker(time.Second)

	m.wg.Add(1)
	go m.runCountdown(m.countdown, t, stop)
}

func (m *Monitor) stopCountdownLocked() {
	m.running = false
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Monitor) runCountdown(id uint64, t Ticker, stop chan struct{}) {
	defer m.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if !m.tick(id) {
				return
			}
		}
	}
}

func (m *Monitor) dispatch(evs []Event) {
	for _, ev := range evs {
		m.logger.Debug().Str("Method", "dispatch").Str("Event", ev.Type.String()).Int("Seconds", ev.Seconds).Msg("monitor event")
		m.handler(ev)
	}
}

// Package session owns the remote playback session: who we are connected
// to, what is loaded there and where playback is.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/capability"
)

const (
	// ResumeTolerance is how far, in seconds, a reported position may trail
	// the expected one after a reload or seek and still count as on target.
	ResumeTolerance = 2.0

	DefaultStatusInterval    = time.Second
	DefaultMaxStatusFailures = 3
	DefaultConnectTimeout    = 15 * time.Second

	// endWindow is how close to the end, in seconds, an idle receiver is
	// taken to have finished the media rather than stopped early.
	endWindow = 5.0

	// settleWindow is how many polls after a reload or seek may still
	// report a stale position before it is taken at face value.
	settleWindow = 3
)

// Machine is the session state machine. All methods are safe for
// concurrent use; control calls made during a transition get ErrBusy.
type Machine struct {
	guard     CapabilitySource
	discover  Discoverer
	connector Connector
	builder   DescriptorBuilder
	observer  Observer
	logger    zerolog.Logger

	statusInterval time.Duration
	maxFailures    int
	connectTimeout time.Duration

	mu            sync.Mutex
	state         State
	gen           uint64
	player        RemotePlayer
	request       *Request
	reloading     bool
	candidates    []devices.Device
	lastDeviceID  string
	cancelConnect context.CancelFunc
	stopPoll      context.CancelFunc
	pollDone      chan struct{}
	anchor        float64
	settling      int

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithObserver attaches lifecycle observation, e.g. metrics.
func WithObserver(o Observer) Option {
	return func(m *Machine) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithStatusInterval sets how often the remote player is polled.
func WithStatusInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.statusInterval = d
		}
	}
}

// WithMaxStatusFailures sets how many consecutive status errors drop the session.
func WithMaxStatusFailures(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxFailures = n
		}
	}
}

// WithConnectTimeout bounds device resolution plus connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// NewMachine returns a Disconnected machine.
func NewMachine(guard CapabilitySource, discover Discoverer, connector Connector, builder DescriptorBuilder, opts ...Option) *Machine {
	m := &Machine{
		guard:          guard,
		discover:       discover,
		connector:      connector,
		builder:        builder,
		observer:       nopObserver{},
		logger:         zerolog.Nop(),
		statusInterval: DefaultStatusInterval,
		maxFailures:    DefaultMaxStatusFailures,
		connectTimeout: DefaultConnectTimeout,
		subs:           make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns a snapshot of the session.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Media returns the remote media info, if any.
func (m *Machine) Media() (MediaInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Media == nil {
		return MediaInfo{}, false
	}
	return *m.state.Media, true
}

// Request returns what was last loaded on the remote player.
func (m *Machine) Request() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.request == nil {
		return Request{}, false
	}
	return *m.request, true
}

// RequestSession connects to the device matching hint (see devices.Match).
func (m *Machine) RequestSession(ctx context.Context, hint string) error {
	if m.guard == nil || m.guard.Await(ctx) != capability.Available {
		return ErrUnsupported
	}

	m.mu.Lock()
	if m.state.Phase != Disconnected {
		m.mu.Unlock()
		return ErrBusy
	}
	m.gen++
	gen := m.gen
	cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	m.cancelConnect = cancel
	candidates := m.candidates
	m.setStateLocked(State{Phase: Connecting, TargetHint: hint})
	snap := m.state.clone()
	m.mu.Unlock()
	defer cancel()

	m.emit(Event{Kind: StateChanged, State: snap})
	m.logger.Debug().Str("Method", "RequestSession").Str("Hint", hint).Msg("connecting")

	dev, player, err := m.connect(cctx, hint, candidates)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if player != nil {
			_ = player.Close()
		}
		m.logger.Debug().Str("Method", "RequestSession").Msg("connection attempt aborted")
		return fmt.Errorf("%w: aborted", ErrDeclined)
	}
	m.cancelConnect = nil

	if err != nil {
		m.setStateLocked(State{Phase: Disconnected})
		snap = m.state.clone()
		m.mu.Unlock()

		m.logger.Warn().Str("Method", "RequestSession").Err(err).Msg("session declined")
		m.emit(Event{Kind: StateChanged, State: snap})
		return fmt.Errorf("%w: %w", ErrDeclined, err)
	}

	m.player = player
	m.lastDeviceID = dev.ID
	m.request = nil
	m.setStateLocked(State{
		Phase:      Connected,
		DeviceName: dev.Name,
		DeviceID:   dev.ID,
		SessionID:  uuid.NewString(),
	})
	m.startPollLocked(gen, player)
	snap = m.state.clone()
	m.mu.Unlock()

	m.logger.Info().Str("Method", "RequestSession").Str("Device", dev.Name).Str("Session", snap.SessionID).Msg("connected")
	m.emit(Event{Kind: StateChanged, State: snap})
	return nil
}

func (m *Machine) connect(ctx context.Context, hint string, candidates []devices.Device) (devices.Device, RemotePlayer, error) {
	if m.connector == nil {
		return devices.Device{}, nil, errors.New("no connector")
	}

	if len(candidates) == 0 && m.discover != nil {
		candidates = m.discover.Devices()
	}
	if len(candidates) == 0 && m.discover != nil {
		found, err := m.discover.Scan(ctx)
		if err != nil {
			return devices.Device{}, nil, err
		}
		candidates = found
	}

	dev, err := devices.Match(candidates, hint)
	if err != nil {
		return devices.Device{}, nil, err
	}

	player, err := m.connector.Connect(ctx, dev)
	if err != nil {
		return dev, nil, err
	}
	return dev, player, nil
}

// EndSession returns to Disconnected from any phase. It aborts a pending
// connection attempt and is a no-op when already Disconnected.
func (m *Machine) EndSession(_ context.Context) error {
	m.mu.Lock()
	if m.state.Phase == Disconnected {
		m.mu.Unlock()
		return nil
	}
	player, done := m.teardownLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	if player != nil {
		if err := player.Close(); err != nil {
			m.logger.Debug().Str("Method", "EndSession").Err(err).Msg("close remote player")
		}
	}

	m.logger.Info().Str("Method", "EndSession").Msg("session ended")
	m.emit(Event{Kind: StateChanged, State: snap})
	return nil
}

// HandleDrop is the session-dropped callback: the remote side went away.
func (m *Machine) HandleDrop(cause error) {
	m.drop(cause, 0)
}

// drop tears down a Connected session. A non-zero gen limits it to that
// session so a stale poller cannot drop its successor.
func (m *Machine) drop(cause error, gen uint64) {
	m.mu.Lock()
	if m.state.Phase != Connected || (gen != 0 && gen != m.gen) {
		m.mu.Unlock()
		return
	}
	player, _ := m.teardownLocked()
	snap := m.state.clone()
	m.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}

	err := ErrSessionDropped
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrSessionDropped, cause)
	}

	m.observer.SessionDropped()
	m.logger.Warn().Str("Method", "HandleDrop").Err(cause).Msg("session dropped")
	m.emit(
		Event{Kind: StateChanged, State: snap},
		Event{Kind: Dropped, State: snap, Err: err},
	)
}

// teardownLocked moves to Disconnected and returns what the caller must
// release outside the lock.
func (m *Machine) teardownLocked() (RemotePlayer, chan struct{}) {
	m.gen++
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}

	var done chan struct{}
	if m.stopPoll != nil {
		m.stopPoll()
		done = m.pollDone
		m.stopPoll = nil
		m.pollDone = nil
	}

	player := m.player
	m.player = nil
	m.request = nil
	m.reloading = false
	m.settling = 0
	m.setStateLocked(State{Phase: Disconnected})
	return player, done
}

// Reconnect requests a session with the last connected device.
func (m *Machine) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	id := m.lastDeviceID
	m.mu.Unlock()

	if id == "" {
		return fmt.Errorf("%w: no previous device", ErrDeclined)
	}
	return m.RequestSession(ctx, id)
}

// ScanForDevices runs discovery and caches the result for RequestSession.
// It never changes State.
func (m *Machine) ScanForDevices(ctx context.Context) ([]devices.Device, error) {
	if m.discover == nil {
		return nil, ErrUnsupported
	}

	found, err := m.discover.Scan(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.candidates = append([]devices.Device(nil), found...)
	m.mu.Unlock()
	return found, nil
}

func (m *Machine) setStateLocked(s State) {
	changed := s.Phase != m.state.Phase
	m.state = s
	if changed {
		m.observer.PhaseEntered(s.Phase)
	}
}

// connectedLocked returns the player for a control call, or why there is none.
func (m *Machine) connectedLocked() (RemotePlayer, error) {
	switch {
	case m.state.Phase == Connecting:
		return nil, ErrBusy
	case m.state.Phase != Connected || m.player == nil:
		return nil, ErrNotConnected
	case m.reloading:
		return nil, ErrBusy
	}
	return m.player, nil
}

// LoadMedia loads req on the remote player and makes it the current media.
func (m *Machine) LoadMedia(ctx context.Context, req Request) error {
	m.mu.Lock()
	player, err := m.connectedLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.reloading = true
	gen := m.gen
	m.mu.Unlock()

	desc := m.builder.Build(req.ItemID, req.Selection, req.ResumeSeconds, req.Display)
	m.logger.Debug().Str("Method", "LoadMedia").Str("Item", req.ItemID).Float64("Resume", desc.ResumeSeconds).Msg("loading")
	loadErr := player.Load(ctx, desc)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	m.reloading = false
	if loadErr != nil {
		m.mu.Unlock()
		m.logger.Error().Str("Method", "LoadMedia").Str("Item", req.ItemID).Err(loadErr).Msg("load failed")
		return &LoadError{ItemID: req.ItemID, Err: loadErr}
	}

	req.ResumeSeconds = desc.ResumeSeconds
	m.request = &req
	m.state.Media = &MediaInfo{
		Title:       desc.Title,
		Subtitle:    desc.SubtitleLine,
		ImageURL:    desc.PosterURL,
		Duration:    req.Duration,
		CurrentTime: desc.ResumeSeconds,
	}
	m.anchorLocked(desc.ResumeSeconds)
	snap := m.state.clone()
	m.mu.Unlock()

	m.emit(Event{Kind: MediaUpdated, State: snap})
	return nil
}

// Play resumes remote playback.
func (m *Machine) Play(ctx context.Context) error {
	return m.control("Play", func(p RemotePlayer) error { return p.Play(ctx) }, func(mi *MediaInfo) {
		mi.Paused = false
	})
}

// Pause pauses remote playback.
func (m *Machine) Pause(ctx context.Context) error {
	return m.control("Pause", func(p RemotePlayer) error { return p.Pause(ctx) }, func(mi *MediaInfo) {
		mi.Paused = true
	})
}

// Seek jumps to seconds on the remote player.
func (m *Machine) Seek(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return m.control("Seek", func(p RemotePlayer) error { return p.Seek(ctx, seconds) }, func(mi *MediaInfo) {
		mi.CurrentTime = seconds
		m.anchorLocked(seconds)
	})
}

// Stop stops remote playback. The session stays Connected with no media.
func (m *Machine) Stop(ctx context.Context) error {
	err := m.control("Stop", func(p RemotePlayer) error { return p.Stop(ctx) }, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.Phase != Connected || m.state.Media == nil {
		m.mu.Unlock()
		return nil
	}
	m.state.Media = nil
	m.request = nil
	snap := m.state.clone()
	m.mu.Unlock()

	m.emit(Event{Kind: MediaUpdated, State: snap})
	return nil
}

func (m *Machine) control(method string, call func(RemotePlayer) error, apply func(*MediaInfo)) error {
	m.mu.Lock()
	player, err := m.connectedLocked()
	gen := m.gen
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := call(player); err != nil {
		m.logger.Error().Str("Method", method).Err(err).Msg("remote control failed")
		return fmt.Errorf("session %s: %w", method, err)
	}

	if apply == nil {
		return nil
	}

	m.mu.Lock()
	if gen != m.gen || m.state.Media == nil {
		m.mu.Unlock()
		return nil
	}
	mi := *m.state.Media
	apply(&mi)
	m.state.Media = &mi
	snap := m.state.clone()
	m.mu.Unlock()

	m.emit(Event{Kind: MediaUpdated, State: snap})
	return nil
}

// anchorLocked opens the window in which polls may lag behind a new position.
func (m *Machine) anchorLocked(seconds float64) {
	m.anchor = seconds
	m.settling = settleWindow
}

func (m *Machine) startPollLocked(gen uint64, player RemotePlayer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopPoll = cancel
	m.pollDone = done

	go m.pollLoop(ctx, done, gen, player)
}

func (m *Machine) pollLoop(ctx context.Context, done chan struct{}, gen uint64, player RemotePlayer) {
	defer close(done)

	ticker := time.NewTicker(m.statusInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := player.Status(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			m.logger.Debug().Str("Method", "pollLoop").Int("Failures", failures).Err(err).Msg("status failed")
			if failures >= m.maxFailures {
				m.drop(err, gen)
				return
			}
			continue
		}
		failures = 0
		m.applyStatus(gen, st)
	}
}

// applyStatus folds a poll into MediaInfo. Positions only move forward,
// except right after a reload or seek, or when the receiver itself jumped
// back further than ResumeTolerance. Idle receivers report no position: the
// last one is kept, or pinned to the duration when playback ran out.
func (m *Machine) applyStatus(gen uint64, st Status) {
	m.mu.Lock()
	if gen != m.gen || m.reloading || m.state.Media == nil {
		m.mu.Unlock()
		return
	}

	cur := *m.state.Media
	next := cur
	if st.Duration > 0 {
		next.Duration = st.Duration
	}
	next.Paused = st.Paused

	t := st.CurrentTime
	switch {
	case st.Idle:
		if next.Duration > 0 && (st.Finished || next.Duration-cur.CurrentTime <= endWindow) {
			next.CurrentTime = next.Duration
		}
	case m.settling > 0:
		m.settling--
		if t >= m.anchor-ResumeTolerance || m.settling == 0 {
			next.CurrentTime = t
			m.settling = 0
		}
	case t >= cur.CurrentTime:
		next.CurrentTime = t
	case cur.CurrentTime-t > ResumeTolerance:
		next.CurrentTime = t
	}

	if next == cur {
		m.mu.Unlock()
		return
	}
	m.state.Media = &next
	snap := m.state.clone()
	m.mu.Unlock()

	m.emit(Event{Kind: MediaUpdated, State: snap})
}

// Package playback is the single control surface of the coordinator. It
// dispatches every call to the local player or the remote session and moves
// the resume point across when the session starts or ends.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/monitor"
	"go2tv.app/handoff/internal/resume"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
)

// Target is the player calls are dispatched to.
type Target int

const (
	Local Target = iota
	Remote
)

func (t Target) String() string {
	if t == Remote {
		return "remote"
	}
	return "local"
}

const (
	DefaultSampleInterval = time.Second
	DefaultReportInterval = 10 * time.Second
	handBackTimeout       = 30 * time.Second
)

// Item is a playable media item.
type Item struct {
	ID            string
	Selection     stream.Selection
	ResumeSeconds float64
	Duration      float64
	Display       stream.Display
	Segments      []monitor.Segment
	HasNext       bool
}

// NextItemFunc returns the item after current, if any.
type NextItemFunc func(ctx context.Context, current string) (Item, bool)

// Session is the part of *session.Machine the controller drives.
type Session interface {
	State() session.State
	Media() (session.MediaInfo, bool)
	Subscribe(fn func(session.Event)) func()
	RequestSession(ctx context.Context, hint string) error
	EndSession(ctx context.Context) error
	LoadMedia(ctx context.Context, req session.Request) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Stop(ctx context.Context) error
	ChangeTrack(ctx context.Context, sel stream.Selection) error
	Reconnect(ctx context.Context) error
	ScanForDevices(ctx context.Context) ([]devices.Device, error)
}

// Controller dispatches controls to the active player.
type Controller struct {
	remote   Session
	local    LocalPlayer
	builder  session.DescriptorBuilder
	mon      *monitor.Monitor
	monOpts  []monitor.Option
	recorder resume.Recorder
	notifier Notifier
	next     NextItemFunc
	onEvent  func(monitor.Event)
	advanced func()
	logger   zerolog.Logger

	sampleInterval time.Duration
	report         *rate.Sometimes
	advanceCh      chan struct{}
	unsubscribe    func()

	mu      sync.Mutex
	target  Target
	item    *Item
	lastPos float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNotifier receives the notices shown to the user.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRecorder stores watch positions. The default discards them.
func WithRecorder(r resume.Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithNextItem enables autoplay advance.
func WithNextItem(fn NextItemFunc) Option {
	return func(c *Controller) { c.next = fn }
}

// WithMonitorEvents receives every monitor event, e.g. to show a skip button.
func WithMonitorEvents(fn func(monitor.Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithAdvanceObserver is called after each autoplay advance.
func WithAdvanceObserver(fn func()) Option {
	return func(c *Controller) { c.advanced = fn }
}

// WithMonitorOptions configures the segment and countdown monitor.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(c *Controller) { c.monOpts = append(c.monOpts, opts...) }
}

// WithSampleInterval sets how often Run reads the active player's position.
func WithSampleInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.sampleInterval = d
		}
	}
}

// WithReportInterval sets how often Run records the position.
func WithReportInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.report = &rate.Sometimes{Interval: d}
		}
	}
}

// New returns a Controller targeting the local player until the session
// connects. Close releases it.
func New(remote Session, local LocalPlayer, builder session.DescriptorBuilder, opts ...Option) *Controller {
	c := &Controller{
		remote:         remote,
		local:          local,
		builder:        builder,
		recorder:       resume.Nop{},
		notifier:       nopNotifier{},
		logger:         zerolog.Nop(),
		sampleInterval: DefaultSampleInterval,
		report:         &rate.Sometimes{Interval: DefaultReportInterval},
		advanceCh:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}

	c.mon = monitor.New(c.onMonitorEvent, append([]monitor.Option{monitor.WithLogger(c.logger)}, c.monOpts...)...)
	if remote.State().Phase == session.Connected {
		c.target = Remote
	}
	c.unsubscribe = remote.Subscribe(c.onSessionEvent)
	return c
}

// Target returns where calls go right now.
func (c *Controller) Target() Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Item returns the current item.
func (c *Controller) Item() (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.item == nil {
		return Item{}, false
	}
	return *c.item, true
}

// Position returns the last sampled position and the item duration.
func (c *Controller) Position() (current, duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.item == nil {
		return 0, 0
	}
	return c.lastPos, c.item.Duration
}

// LoadItem starts item on the active player. Segment and countdown state
// is reset for the new item.
func (c *Controller) LoadItem(ctx context.Context, item Item) error {
	if item.ResumeSeconds < 0 {
		item.ResumeSeconds = 0
	}

	err := c.dispatch(ctx, "LoadItem",
		func() error { return c.remote.LoadMedia(ctx, requestFor(item, item.ResumeSeconds)) },
		func() error {
			d := c.builder.Build(item.ID, item.Selection, item.ResumeSeconds, item.Display)
			return c.local.Load(ctx, d)
		},
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.item = &item
	c.lastPos = item.ResumeSeconds
	c.mu.Unlock()

	if err := c.mon.SetItem(monitor.Item{Segments: item.Segments, HasNext: item.HasNext && c.next != nil}); err != nil {
		c.logger.Warn().Str("Method", "LoadItem").Str("Item", item.ID).Err(err).Msg("ignoring segments")
	}
	c.logger.Info().Str("Method", "LoadItem").Str("Item", item.ID).Str("Target", c.Target().String()).
		Float64("Resume", item.ResumeSeconds).Msg("item loaded")
	return nil
}

// Play resumes the active player.
func (c *Controller) Play(ctx context.Context) error {
	return c.dispatch(ctx, "Play",
		func() error { return c.remote.Play(ctx) },
		func() error { return c.local.Play(ctx) })
}

// Pause pauses the active player.
func (c *Controller) Pause(ctx context.Context) error {
	return c.dispatch(ctx, "Pause",
		func() error { return c.remote.Pause(ctx) },
		func() error { return c.local.Pause(ctx) })
}

// Seek moves the active player to seconds; negative values mean 0.
func (c *Controller) Seek(ctx context.Context, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	err := c.dispatch(ctx, "Seek",
		func() error { return c.remote.Seek(ctx, seconds) },
		func() error { return c.local.Seek(ctx, seconds) })
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.lastPos = seconds
	c.mu.Unlock()
	return nil
}

// Stop stops the active player and records where it stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	item := c.item
	pos := c.lastPos
	c.mu.Unlock()

	err := c.dispatch(ctx, "Stop",
		func() error { return c.remote.Stop(ctx) },
		func() error { return c.local.Stop(ctx) })
	if err != nil {
		return err
	}
	if item != nil {
		c.record(ctx, item.ID, pos)
	}
	return nil
}

// ChangeTrack switches audio, subtitle or quality. The local player
// switches in place when it can; otherwise it and a remote session reload
// from the live position.
func (c *Controller) ChangeTrack(ctx context.Context, sel stream.Selection) error {
	err := c.dispatch(ctx, "ChangeTrack",
		func() error { return c.remote.ChangeTrack(ctx, sel) },
		func() error { return c.selectLocal(ctx, sel) })
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.item != nil {
		c.item.Selection = sel
	}
	c.mu.Unlock()
	return nil
}

// SkipSegment seeks past the active segment. The segment stays available
// when the seek fails.
func (c *Controller) SkipSegment(ctx context.Context) error {
	seekTo, ok := c.mon.SkipTarget()
	if !ok {
		c.notifier.Notify(noticeFor("SkipSegment", ErrNoSegment))
		return ErrNoSegment
	}
	if err := c.Seek(ctx, seekTo); err != nil {
		return err
	}
	c.mon.Skip()
	return nil
}

// DismissCountdown cancels autoplay for the rest of the item.
func (c *Controller) DismissCountdown() {
	c.mon.Dismiss()
}

// Connect starts a remote session and hands the current item over at the
// local position. The local player keeps playing while the session is set
// up, so its position is read once the receiver is ready.
func (c *Controller) Connect(ctx context.Context, hint string) error {
	return c.handOff(ctx, "Connect", func() error { return c.remote.RequestSession(ctx, hint) })
}

// Reconnect connects to the last receiver again and hands the current item
// over the same way Connect does.
func (c *Controller) Reconnect(ctx context.Context) error {
	return c.handOff(ctx, "Reconnect", func() error { return c.remote.Reconnect(ctx) })
}

// ScanForDevices refreshes the receivers a later Connect can pick from.
func (c *Controller) ScanForDevices(ctx context.Context) ([]devices.Device, error) {
	found, err := c.remote.ScanForDevices(ctx)
	if err != nil {
		return nil, c.fail("ScanForDevices", err)
	}
	c.logger.Info().Str("Method", "ScanForDevices").Int("Devices", len(found)).Msg("scan done")
	return found, nil
}

func (c *Controller) handOff(ctx context.Context, method string, request func() error) error {
	wasLocal := c.Target() == Local

	if err := request(); err != nil {
		return c.fail(method, err)
	}

	var (
		pos     float64
		havePos bool
	)
	if wasLocal {
		pos, havePos = c.localPosition(ctx)
	}

	c.mu.Lock()
	if !havePos {
		pos = c.lastPos
	}
	c.lastPos = pos
	var item *Item
	if c.item != nil {
		it := *c.item
		item = &it
	}
	c.mu.Unlock()

	if err := c.local.Pause(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
		c.logger.Debug().Str("Method", method).Err(err).Msg("pause local player")
	}
	if item == nil {
		return nil
	}

	c.record(ctx, item.ID, pos)
	c.logger.Info().Str("Method", method).Str("Item", item.ID).Float64("Resume", pos).Msg("handing off to receiver")
	if err := c.remote.LoadMedia(ctx, requestFor(*item, pos)); err != nil {
		return c.fail(method, err)
	}
	return nil
}

// Disconnect ends the session; playback continues locally.
func (c *Controller) Disconnect(ctx context.Context) error {
	if mi, ok := c.remote.Media(); ok {
		c.mu.Lock()
		c.lastPos = mi.CurrentTime
		c.mu.Unlock()
	}
	if err := c.remote.EndSession(ctx); err != nil {
		return c.fail("Disconnect", err)
	}
	return nil
}

// Run samples the active player until ctx ends, feeding the segment
// monitor and the resume recorder, and executes autoplay advances.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(c.sampleInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.Sample(ctx)
		case <-c.advanceCh:
			c.advance(ctx)
		}
	}
}

// Sample takes one position reading from the active player.
func (c *Controller) Sample(ctx context.Context) {
	c.mu.Lock()
	target := c.target
	var item Item
	if c.item != nil {
		item = *c.item
	}
	c.mu.Unlock()
	if item.ID == "" {
		return
	}

	var cur, dur float64
	if target == Remote {
		mi, ok := c.remote.Media()
		if !ok {
			return
		}
		cur, dur = mi.CurrentTime, mi.Duration
	} else {
		var err error
		if cur, dur, err = c.local.Position(ctx); err != nil {
			c.logger.Debug().Str("Method", "Sample").Err(err).Msg("local position")
			return
		}
	}
	if dur <= 0 {
		dur = item.Duration
	}

	c.mu.Lock()
	if c.target == target {
		c.lastPos = cur
	}
	c.mu.Unlock()

	c.mon.Observe(cur, dur)
	c.report.Do(func() { c.record(ctx, item.ID, cur) })
}

// Close stops the monitor and detaches from the session.
func (c *Controller) Close() {
	c.unsubscribe()
	c.mon.Close()
}

func (c *Controller) dispatch(ctx context.Context, method string, remote, local func() error) error {
	target := c.Target()

	var err error
	if target == Remote {
		err = remote()
		if errors.Is(err, session.ErrNotConnected) && c.remote.State().Phase == session.Disconnected {
			// The session dropped under us; the call belongs to the local player now.
			c.logger.Debug().Str("Method", method).Msg("falling back to local player")
			err = local()
		}
	} else {
		err = local()
	}

	if err != nil {
		return c.fail(method, err)
	}
	return nil
}

func (c *Controller) fail(method string, err error) error {
	c.logger.Warn().Str("Method", method).Err(err).Msg("failed")
	c.notifier.Notify(noticeFor(method, err))
	return err
}

func (c *Controller) selectLocal(ctx context.Context, sel stream.Selection) error {
	err := c.local.SelectTracks(ctx, sel)
	if !errors.Is(err, ErrNotSupported) {
		return err
	}

	c.mu.Lock()
	if c.item == nil {
		c.mu.Unlock()
		return err
	}
	item := *c.item
	pos := c.lastPos
	c.mu.Unlock()

	if cur, ok := c.localPosition(ctx); ok {
		pos = cur
	}
	c.logger.Debug().Str("Method", "ChangeTrack").Str("Item", item.ID).Float64("Resume", pos).Msg("reloading local player")
	return c.local.Load(ctx, c.builder.Build(item.ID, sel, pos, item.Display))
}

func (c *Controller) localPosition(ctx context.Context) (float64, bool) {
	cur, _, err := c.local.Position(ctx)
	if err != nil {
		c.logger.Debug().Str("Method", "localPosition").Err(err).Msg("falling back to last sample")
		return 0, false
	}
	return cur, true
}

func (c *Controller) record(ctx context.Context, itemID string, seconds float64) {
	if err := c.recorder.Record(ctx, itemID, seconds); err != nil {
		c.logger.Debug().Str("Method", "record").Str("Item", itemID).Err(err).Msg("position not recorded")
	}
}

func (c *Controller) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.MediaUpdated:
		if ev.State.Media == nil {
			return
		}
		c.mu.Lock()
		if c.target == Remote {
			c.lastPos = ev.State.Media.CurrentTime
		}
		c.mu.Unlock()

	case session.StateChanged:
		c.mu.Lock()
		prev := c.target
		switch ev.State.Phase {
		case session.Connected:
			c.target = Remote
		case session.Disconnected:
			c.target = Local
		}
		handBack := prev == Remote && c.target == Local
		var item *Item
		if handBack && c.item != nil {
			it := *c.item
			item = &it
		}
		pos := c.lastPos
		c.mu.Unlock()

		if item != nil {
			c.handBack(*item, pos)
		}

	case session.Dropped:
		c.notifier.Notify(noticeFor("Session", ev.Err))
	}
}

// handBack resumes the item locally where the receiver left off.
func (c *Controller) handBack(item Item, pos float64) {
	ctx, cancel := context.WithTimeout(context.Background(), handBackTimeout)
	defer cancel()

	c.logger.Info().Str("Method", "handBack").Str("Item", item.ID).Float64("Resume", pos).Msg("continuing locally")
	c.record(ctx, item.ID, pos)

	d := c.builder.Build(item.ID, item.Selection, pos, item.Display)
	if err := c.local.Load(ctx, d); err != nil {
		c.fail("handBack", err)
	}
}

func (c *Controller) onMonitorEvent(ev monitor.Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
	if ev.Type == monitor.Advance {
		select {
		case c.advanceCh <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) advance(ctx context.Context) {
	c.mu.Lock()
	var current string
	if c.item != nil {
		current = c.item.ID
	}
	c.mu.Unlock()
	if current == "" || c.next == nil {
		return
	}

	item, ok := c.next(ctx, current)
	if !ok {
		return
	}
	c.logger.Info().Str("Method", "advance").Str("From", current).Str("To", item.ID).Msg("autoplay")
	if err := c.LoadItem(ctx, item); err != nil {
		return
	}
	if c.advanced != nil {
		c.advanced()
	}
}

func requestFor(item Item, resumeSeconds float64) session.Request {
	return session.Request{
		ItemID:        item.ID,
		Selection:     item.Selection,
		ResumeSeconds: resumeSeconds,
		Duration:      item.Duration,
		Display:       item.Display,
	}
}

package playback

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/skratchdot/open-golang/open"

	"go2tv.app/handoff/internal/stream"
)

// LocalPlayer is the player on this machine. Unlike a receiver it can
// switch tracks in place.
type LocalPlayer interface {
	// Load starts d at d.ResumeSeconds.
	Load(ctx context.Context, d stream.Descriptor) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Stop(ctx context.Context) error
	SelectTracks(ctx context.Context, sel stream.Selection) error
	Position(ctx context.Context) (current, duration float64, err error)
}

var openURL = open.Start

var errNothingLoaded = errors.New("playback: nothing loaded")

// SystemPlayer hands streams to the desktop's default media handler. It
// cannot control the external player, so it estimates the position from
// the wall clock.
type SystemPlayer struct {
	mu       sync.Mutex
	url      string
	base     float64
	started  time.Time
	duration float64
	loaded   bool
	now      func() time.Time
}

var _ LocalPlayer = (*SystemPlayer)(nil)

func NewSystemPlayer() *SystemPlayer {
	return &SystemPlayer{now: time.Now}
}

// Load opens the stream with a media fragment for the start offset.
func (p *SystemPlayer) Load(_ context.Context, d stream.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked(d.URL, d.ResumeSeconds)
}

// Seek opens the loaded stream again at seconds.
func (p *SystemPlayer) Seek(_ context.Context, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return errNothingLoaded
	}
	return p.openLocked(p.url, seconds)
}

func (p *SystemPlayer) openLocked(rawURL string, seconds float64) error {
	u := rawURL
	if seconds > 0 {
		u += "#t=" + strconv.FormatFloat(seconds, 'f', 0, 64)
	}
	if err := openURL(u); err != nil {
		return err
	}

	p.url = rawURL
	p.base = seconds
	p.started = p.now()
	p.loaded = true
	return nil
}

// SetDuration tells the player how long the item is.
func (p *SystemPlayer) SetDuration(seconds float64) {
	p.mu.Lock()
	p.duration = seconds
	p.mu.Unlock()
}

func (p *SystemPlayer) Play(context.Context) error  { return ErrNotSupported }
func (p *SystemPlayer) Pause(context.Context) error { return ErrNotSupported }

// SelectTracks is not possible in place; the caller reloads instead.
func (p *SystemPlayer) SelectTracks(context.Context, stream.Selection) error { return ErrNotSupported }

// Stop forgets the stream; the external player keeps running.
func (p *SystemPlayer) Stop(context.Context) error {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
	return nil
}

func (p *SystemPlayer) Position(context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return 0, p.duration, nil
	}

	pos := p.base + p.now().Sub(p.started).Seconds()
	if p.duration > 0 && pos > p.duration {
		pos = p.duration
	}
	return pos, p.duration, nil
}

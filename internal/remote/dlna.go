package remote

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
	"go2tv.app/handoff/soapcalls"
)

// AVTransport states reported by GetTransportInfo.
const (
	transportPaused  = "PAUSED_PLAYBACK"
	transportStopped = "STOPPED"
	transportNoMedia = "NO_MEDIA_PRESENT"
)

// renderer is the subset of *soapcalls.Renderer used here.
type renderer interface {
	SetAVTransportURI(ctx context.Context, m soapcalls.Media) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	GetPositionInfo(ctx context.Context) (soapcalls.PositionInfo, error)
	GetTransportInfo(ctx context.Context) (string, error)
}

var (
	// Renderers refuse to seek until the new URI is playing.
	resumeSeekAttempts = 5
	resumeSeekDelay    = 500 * time.Millisecond
)

// DLNA is a session.RemotePlayer backed by an AVTransport renderer.
type DLNA struct {
	r renderer
}

var _ session.RemotePlayer = (*DLNA)(nil)

func NewDLNA(r renderer) *DLNA {
	return &DLNA{r: r}
}

// Load sets the URI, starts it and seeks to the resume point. DLNA has no
// start offset in SetAVTransportURI.
func (d *DLNA) Load(ctx context.Context, desc stream.Descriptor) error {
	if err := d.r.SetAVTransportURI(ctx, soapcalls.Media{
		URL:         desc.URL,
		ContentType: desc.ContentType,
		Title:       desc.Title,
		Subtitle:    desc.SubtitleLine,
		PosterURL:   desc.PosterURL,
	}); err != nil {
		return errors.Wrap(err, "dlna load")
	}
	if err := d.r.Play(ctx); err != nil {
		return errors.Wrap(err, "dlna load play")
	}
	if desc.ResumeSeconds <= 0 {
		return nil
	}

	var err error
	for range resumeSeekAttempts {
		if err = d.r.Seek(ctx, desc.ResumeSeconds); err == nil {
			return nil
		}
		t := time.NewTimer(resumeSeekDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return errors.Wrap(err, "dlna load resume")
}

func (d *DLNA) Play(ctx context.Context) error  { return d.r.Play(ctx) }
func (d *DLNA) Pause(ctx context.Context) error { return d.r.Pause(ctx) }
func (d *DLNA) Stop(ctx context.Context) error  { return d.r.Stop(ctx) }

func (d *DLNA) Seek(ctx context.Context, seconds float64) error {
	return d.r.Seek(ctx, seconds)
}

func (d *DLNA) Status(ctx context.Context) (session.Status, error) {
	state, err := d.r.GetTransportInfo(ctx)
	if err != nil {
		return session.Status{}, err
	}
	pos, err := d.r.GetPositionInfo(ctx)
	if err != nil {
		return session.Status{}, err
	}

	return session.Status{
		CurrentTime: pos.RelTime,
		Duration:    pos.Duration,
		Paused:      state == transportPaused,
		Idle:        state == transportStopped || state == transportNoMedia,
	}, nil
}

// Close stops the renderer. DLNA has no connection to tear down.
func (d *DLNA) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return d.r.Stop(ctx)
}

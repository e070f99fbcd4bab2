// Package remote adapts the Chromecast and DLNA clients to the narrow
// player surface the session machine drives.
package remote

import (
	"context"
	"time"

	"go2tv.app/handoff/castprotocol"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
)

const closeTimeout = 5 * time.Second

// castClient is the subset of *castprotocol.CastClient used here.
type castClient interface {
	Connect(ctx context.Context) error
	Load(ctx context.Context, r castprotocol.LoadRequest) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	GetStatus(ctx context.Context) (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

// Chromecast is a session.RemotePlayer backed by a cast v2 client.
type Chromecast struct {
	client castClient
}

var _ session.RemotePlayer = (*Chromecast)(nil)

func NewChromecast(c castClient) *Chromecast {
	return &Chromecast{client: c}
}

func (c *Chromecast) Load(ctx context.Context, d stream.Descriptor) error {
	return c.client.Load(ctx, castprotocol.LoadRequest{
		URL:         d.URL,
		ContentType: d.ContentType,
		Title:       d.Title,
		Subtitle:    d.SubtitleLine,
		PosterURL:   d.PosterURL,
		StartTime:   d.ResumeSeconds,
	})
}

func (c *Chromecast) Play(ctx context.Context) error  { return c.client.Play(ctx) }
func (c *Chromecast) Pause(ctx context.Context) error { return c.client.Pause(ctx) }
func (c *Chromecast) Stop(ctx context.Context) error  { return c.client.Stop(ctx) }

func (c *Chromecast) Seek(ctx context.Context, seconds float64) error {
	return c.client.Seek(ctx, seconds)
}

func (c *Chromecast) Status(ctx context.Context) (session.Status, error) {
	st, err := c.client.GetStatus(ctx)
	if err != nil {
		return session.Status{}, err
	}
	return session.Status{
		CurrentTime: st.CurrentTime,
		Duration:    st.Duration,
		Paused:      st.PlayerState == castprotocol.StatePaused,
		Idle:        st.PlayerState == castprotocol.StateIdle || st.PlayerState == "",
		Finished:    st.Finished(),
	}, nil
}

// Close stops the media on the receiver and drops the connection.
func (c *Chromecast) Close() error {
	return c.client.Close(true)
}

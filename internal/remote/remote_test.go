package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"go2tv.app/handoff/castprotocol"
	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
	"go2tv.app/handoff/soapcalls"
)

type fakeCast struct {
	calls      []string
	loaded     castprotocol.LoadRequest
	status     *castprotocol.CastStatus
	connectErr error
	stopMedia  bool
}

func (f *fakeCast) Connect(context.Context) error {
	f.calls = append(f.calls, "connect")
	return f.connectErr
}

func (f *fakeCast) Load(_ context.Context, r castprotocol.LoadRequest) error {
	f.calls = append(f.calls, "load")
	f.loaded = r
	return nil
}

func (f *fakeCast) Play(context.Context) error  { f.calls = append(f.calls, "play"); return nil }
func (f *fakeCast) Pause(context.Context) error { f.calls = append(f.calls, "pause"); return nil }
func (f *fakeCast) Stop(context.Context) error  { f.calls = append(f.calls, "stop"); return nil }

func (f *fakeCast) Seek(context.Context, float64) error {
	f.calls = append(f.calls, "seek")
	return nil
}

func (f *fakeCast) GetStatus(context.Context) (*castprotocol.CastStatus, error) {
	if f.status == nil {
		return nil, errors.New("no status")
	}
	return f.status, nil
}

func (f *fakeCast) Close(stopMedia bool) error {
	f.calls = append(f.calls, "close")
	f.stopMedia = stopMedia
	return nil
}

func TestChromecastLoad(t *testing.T) {
	fc := &fakeCast{}
	c := NewChromecast(fc)

	d := stream.Descriptor{
		URL:           "http://portal:8096/stream/ep1?subtitleIndex=2",
		Title:         "Pilot",
		SubtitleLine:  "S01E01",
		PosterURL:     "http://portal:8096/img/ep1.jpg",
		ResumeSeconds: 45,
		ContentType:   "video/mp4",
	}
	if err := c.Load(context.Background(), d); err != nil {
		t.Fatalf("Load() err = %v", err)
	}

	want := castprotocol.LoadRequest{
		URL:         d.URL,
		ContentType: "video/mp4",
		Title:       "Pilot",
		Subtitle:    "S01E01",
		PosterURL:   d.PosterURL,
		StartTime:   45,
	}
	if diff := cmp.Diff(want, fc.loaded); diff != "" {
		t.Fatalf("Load() request mismatch (-want +got):\n%s", diff)
	}
}

func TestChromecastStatus(t *testing.T) {
	tt := []struct {
		name string
		cs   castprotocol.CastStatus
		want session.Status
	}{
		{
			"playing",
			castprotocol.CastStatus{PlayerState: castprotocol.StatePlaying, CurrentTime: 12.5, Duration: 1200},
			session.Status{CurrentTime: 12.5, Duration: 1200},
		},
		{
			"paused",
			castprotocol.CastStatus{PlayerState: castprotocol.StatePaused, CurrentTime: 30, Duration: 1200},
			session.Status{CurrentTime: 30, Duration: 1200, Paused: true},
		},
		{
			"idle",
			castprotocol.CastStatus{PlayerState: castprotocol.StateIdle, IdleReason: "FINISHED"},
			session.Status{Idle: true, Finished: true},
		},
		{
			"idle cancelled",
			castprotocol.CastStatus{PlayerState: castprotocol.StateIdle, IdleReason: "CANCELLED"},
			session.Status{Idle: true},
		},
		{
			"no media",
			castprotocol.CastStatus{},
			session.Status{Idle: true},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cs := tc.cs
			c := NewChromecast(&fakeCast{status: &cs})
			got, err := c.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() err = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Status() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestChromecastCloseStopsMedia(t *testing.T) {
	fc := &fakeCast{}
	if err := NewChromecast(fc).Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}
	if !fc.stopMedia {
		t.Fatalf("Close() did not stop the media")
	}
}

type fakeRenderer struct {
	calls    []string
	media    soapcalls.Media
	seekErrs int
	seekTo   float64
	state    string
	pos      soapcalls.PositionInfo
	infoErr  error
}

func (f *fakeRenderer) SetAVTransportURI(_ context.Context, m soapcalls.Media) error {
	f.calls = append(f.calls, "set")
	f.media = m
	return nil
}

func (f *fakeRenderer) Play(context.Context) error  { f.calls = append(f.calls, "play"); return nil }
func (f *fakeRenderer) Pause(context.Context) error { f.calls = append(f.calls, "pause"); return nil }
func (f *fakeRenderer) Stop(context.Context) error  { f.calls = append(f.calls, "stop"); return nil }

func (f *fakeRenderer) Seek(_ context.Context, s float64) error {
	f.calls = append(f.calls, "seek")
	if f.seekErrs > 0 {
		f.seekErrs--
		return &soapcalls.FaultError{Action: "Seek", Code: "701"}
	}
	f.seekTo = s
	return nil
}

func (f *fakeRenderer) GetPositionInfo(context.Context) (soapcalls.PositionInfo, error) {
	return f.pos, nil
}

func (f *fakeRenderer) GetTransportInfo(context.Context) (string, error) {
	return f.state, f.infoErr
}

func withSeekDelay(t *testing.T, d time.Duration) {
	t.Helper()
	old := resumeSeekDelay
	resumeSeekDelay = d
	t.Cleanup(func() { resumeSeekDelay = old })
}

func TestDLNALoadSeeksToResume(t *testing.T) {
	withSeekDelay(t, time.Millisecond)

	fr := &fakeRenderer{seekErrs: 2}
	d := NewDLNA(fr)
	err := d.Load(context.Background(), stream.Descriptor{
		URL:           "http://portal/stream/ep1",
		Title:         "Pilot",
		ResumeSeconds: 45,
		ContentType:   "video/mp4",
	})
	if err != nil {
		t.Fatalf("Load() err = %v", err)
	}

	wantCalls := []string{"set", "play", "seek", "seek", "seek"}
	if diff := cmp.Diff(wantCalls, fr.calls); diff != "" {
		t.Fatalf("Load() calls mismatch (-want +got):\n%s", diff)
	}
	if fr.seekTo != 45 {
		t.Fatalf("Load() seek got = %v, want 45", fr.seekTo)
	}
	if fr.media.URL != "http://portal/stream/ep1" || fr.media.ContentType != "video/mp4" {
		t.Fatalf("Load() media got = %+v", fr.media)
	}
}

func TestDLNALoadFromStart(t *testing.T) {
	fr := &fakeRenderer{}
	if err := NewDLNA(fr).Load(context.Background(), stream.Descriptor{URL: "http://portal/stream/ep1"}); err != nil {
		t.Fatalf("Load() err = %v", err)
	}
	if diff := cmp.Diff([]string{"set", "play"}, fr.calls); diff != "" {
		t.Fatalf("Load() calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDLNALoadResumeGivesUp(t *testing.T) {
	withSeekDelay(t, time.Millisecond)

	fr := &fakeRenderer{seekErrs: 100}
	err := NewDLNA(fr).Load(context.Background(), stream.Descriptor{URL: "u", ResumeSeconds: 10})
	var fe *soapcalls.FaultError
	if !errors.As(err, &fe) {
		t.Fatalf("Load() err = %v, want a wrapped *soapcalls.FaultError", err)
	}
}

func TestDLNAStatus(t *testing.T) {
	tt := []struct {
		state string
		want  session.Status
	}{
		{"PLAYING", session.Status{CurrentTime: 61, Duration: 1200}},
		{"PAUSED_PLAYBACK", session.Status{CurrentTime: 61, Duration: 1200, Paused: true}},
		{"STOPPED", session.Status{CurrentTime: 61, Duration: 1200, Idle: true}},
		{"NO_MEDIA_PRESENT", session.Status{CurrentTime: 61, Duration: 1200, Idle: true}},
		{"TRANSITIONING", session.Status{CurrentTime: 61, Duration: 1200}},
	}

	for _, tc := range tt {
		t.Run(tc.state, func(t *testing.T) {
			fr := &fakeRenderer{state: tc.state, pos: soapcalls.PositionInfo{RelTime: 61, Duration: 1200}}
			got, err := NewDLNA(fr).Status(context.Background())
			if err != nil {
				t.Fatalf("Status() err = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Status() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestConnector(t *testing.T) {
	fc := &fakeCast{}
	fr := &fakeRenderer{state: "STOPPED"}

	c := NewConnector(zerolog.Nop())
	var castAddr, controlURL string
	c.newCast = func(addr string, _ zerolog.Logger) (castClient, error) {
		castAddr = addr
		return fc, nil
	}
	c.newRenderer = func(u string, _ *http.Client, _ zerolog.Logger) renderer {
		controlURL = u
		return fr
	}

	p, err := c.Connect(context.Background(), devices.Device{Name: "Living Room", Addr: "192.168.1.20:8009", Type: devices.DeviceTypeChromecast})
	if err != nil {
		t.Fatalf("Connect() chromecast err = %v", err)
	}
	if _, ok := p.(*Chromecast); !ok || castAddr != "192.168.1.20:8009" {
		t.Fatalf("Connect() chromecast got = %T for %q", p, castAddr)
	}
	if diff := cmp.Diff([]string{"connect"}, fc.calls); diff != "" {
		t.Fatalf("Connect() calls mismatch (-want +got):\n%s", diff)
	}

	p, err = c.Connect(context.Background(), devices.Device{Name: "TV", Type: devices.DeviceTypeDLNA, ControlURL: "http://192.168.1.30:49152/ctl"})
	if err != nil {
		t.Fatalf("Connect() dlna err = %v", err)
	}
	if _, ok := p.(*DLNA); !ok || controlURL != "http://192.168.1.30:49152/ctl" {
		t.Fatalf("Connect() dlna got = %T for %q", p, controlURL)
	}
}

func TestConnectorErrors(t *testing.T) {
	connectErr := errors.New("connection refused")

	c := NewConnector(zerolog.Nop())
	c.newCast = func(string, zerolog.Logger) (castClient, error) {
		return &fakeCast{connectErr: connectErr}, nil
	}
	c.newRenderer = func(string, *http.Client, zerolog.Logger) renderer {
		return &fakeRenderer{infoErr: errors.New("no route to host")}
	}

	tt := []struct {
		name string
		dev  devices.Device
		want string
	}{
		{"cast connect", devices.Device{Name: "Kitchen", Type: devices.DeviceTypeChromecast}, "connection refused"},
		{"dlna without control url", devices.Device{Name: "TV", Type: devices.DeviceTypeDLNA}, "no AVTransport control url"},
		{"dlna unreachable", devices.Device{Name: "TV", Type: devices.DeviceTypeDLNA, ControlURL: "http://x/ctl"}, "no route to host"},
		{"unknown type", devices.Device{Name: "Toaster", Type: "AirPlay"}, "unsupported device type"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Connect(context.Background(), tc.dev)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Connect() err = %v, want it to contain %q", err, tc.want)
			}
		})
	}
}

package interactive

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/monitor"
	"go2tv.app/handoff/internal/playback"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
)

type fakeControls struct {
	target  playback.Target
	item    playback.Item
	hasItem bool
	cur     float64
	dur     float64
	err     error
	calls   []string
	seeks   []float64
	sels    []stream.Selection
	hints   []string
	devs    []devices.Device
}

func (f *fakeControls) Target() playback.Target      { return f.target }
func (f *fakeControls) Item() (playback.Item, bool)  { return f.item, f.hasItem }
func (f *fakeControls) Position() (float64, float64) { return f.cur, f.dur }

func (f *fakeControls) call(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControls) Play(context.Context) error  { return f.call("Play") }
func (f *fakeControls) Pause(context.Context) error { return f.call("Pause") }
func (f *fakeControls) Stop(context.Context) error  { return f.call("Stop") }
func (f *fakeControls) DismissCountdown()           { _ = f.call("DismissCountdown") }

func (f *fakeControls) Seek(_ context.Context, s float64) error {
	f.seeks = append(f.seeks, s)
	return f.call("Seek")
}

func (f *fakeControls) ChangeTrack(_ context.Context, sel stream.Selection) error {
	f.sels = append(f.sels, sel)
	return f.call("ChangeTrack")
}

func (f *fakeControls) SkipSegment(context.Context) error { return f.call("SkipSegment") }

func (f *fakeControls) Connect(_ context.Context, hint string) error {
	f.hints = append(f.hints, hint)
	if err := f.call("Connect"); err != nil {
		return err
	}
	f.target = playback.Remote
	return nil
}

func (f *fakeControls) Disconnect(context.Context) error {
	if err := f.call("Disconnect"); err != nil {
		return err
	}
	f.target = playback.Local
	return nil
}

func (f *fakeControls) Reconnect(context.Context) error {
	if err := f.call("Reconnect"); err != nil {
		return err
	}
	f.target = playback.Remote
	return nil
}

func (f *fakeControls) ScanForDevices(context.Context) ([]devices.Device, error) {
	if err := f.call("ScanForDevices"); err != nil {
		return nil, err
	}
	return f.devs, nil
}

func newTestScreen(ctl Controls) (*Screen, *bool) {
	exited := false
	return newScreen(nil, ctl, func() { exited = true }, zerolog.Nop()), &exited
}

func runeKey(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestActionFromKey(t *testing.T) {
	tests := []struct {
		name string
		ev   *tcell.EventKey
		want action
	}{
		{"escape exits", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone), actionExit},
		{"left seeks back", tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone), actionSeekBack},
		{"right seeks forward", tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone), actionSeekForward},
		{"p toggles", runeKey('p'), actionPlayPause},
		{"space toggles", runeKey(' '), actionPlayPause},
		{"s skips", runeKey('s'), actionSkip},
		{"d dismisses", runeKey('d'), actionDismiss},
		{"a audio", runeKey('a'), actionAudio},
		{"t subtitle", runeKey('t'), actionSubtitle},
		{"b quality", runeKey('b'), actionQuality},
		{"c connects", runeKey('c'), actionConnect},
		{"x disconnects", runeKey('x'), actionDisconnect},
		{"r reconnects", runeKey('r'), actionReconnect},
		{"l scans", runeKey('l'), actionScan},
		{"unbound rune", runeKey('z'), actionNone},
		{"unbound key", tcell.NewEventKey(tcell.KeyF1, 0, tcell.ModNone), actionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := actionFromKey(tt.ev); got != tt.want {
				t.Fatalf("actionFromKey() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextTrack(t *testing.T) {
	got := []string{}
	tr := stream.DefaultTrack
	for range maxTrack + 3 {
		tr = nextTrack(tr)
		got = append(got, tr.String())
	}
	want := []string{"0", "1", "2", "3", "4", "5", "6", "7", "default", "0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("nextTrack() mismatch (-want +got):\n%s", diff)
	}
}

func TestNextQuality(t *testing.T) {
	got := []int{}
	q := stream.Auto
	for range len(qualityTiers) + 2 {
		q = nextQuality(q)
		got = append(got, q.Ceiling())
	}
	want := []int{20_000_000, 8_000_000, 4_000_000, 1_500_000, 0, 20_000_000}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("nextQuality() mismatch (-want +got):\n%s", diff)
	}

	if got := nextQuality(stream.Tier(123)); !got.IsAuto() {
		t.Fatalf("nextQuality(unknown tier) got = %v, want auto", got)
	}
}

func TestHandleKeyEventPlayPause(t *testing.T) {
	ctl := &fakeControls{}
	p, _ := newTestScreen(ctl)
	ctx := context.Background()

	p.HandleKeyEvent(ctx, runeKey('p'))
	p.HandleKeyEvent(ctx, runeKey('p'))
	if diff := cmp.Diff([]string{"Pause", "Play"}, ctl.calls); diff != "" {
		t.Fatalf("HandleKeyEvent() calls mismatch (-want +got):\n%s", diff)
	}

	// A failed pause leaves the toggle where it was.
	ctl.err = errors.New("nope")
	ctl.calls = nil
	p.HandleKeyEvent(ctx, runeKey('p'))
	p.HandleKeyEvent(ctx, runeKey('p'))
	if diff := cmp.Diff([]string{"Pause", "Pause"}, ctl.calls); diff != "" {
		t.Fatalf("HandleKeyEvent() after error mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleKeyEventSeekClamps(t *testing.T) {
	ctl := &fakeControls{cur: 5, dur: 12}
	p, _ := newTestScreen(ctl)
	ctx := context.Background()

	p.HandleKeyEvent(ctx, tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone))
	p.HandleKeyEvent(ctx, tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	if diff := cmp.Diff([]float64{0, 12}, ctl.seeks); diff != "" {
		t.Fatalf("HandleKeyEvent() seeks mismatch (-want +got):\n%s", diff)
	}

	// The burst is spent; a third immediate press is dropped.
	p.HandleKeyEvent(ctx, tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone))
	if len(ctl.seeks) != 2 {
		t.Fatalf("HandleKeyEvent() got %d seeks, want the third throttled", len(ctl.seeks))
	}
}

func TestHandleKeyEventTrackCycle(t *testing.T) {
	ctl := &fakeControls{
		hasItem: true,
		item: playback.Item{
			ID:        "ep1",
			Selection: stream.Selection{Audio: stream.TrackIndex(1)},
		},
	}
	p, _ := newTestScreen(ctl)
	ctx := context.Background()

	p.HandleKeyEvent(ctx, runeKey('a'))
	p.HandleKeyEvent(ctx, runeKey('t'))
	p.HandleKeyEvent(ctx, runeKey('b'))

	want := []stream.Selection{
		{Audio: stream.TrackIndex(2)},
		{Audio: stream.TrackIndex(1), Subtitle: stream.TrackIndex(0)},
		{Audio: stream.TrackIndex(1), Quality: stream.Tier(qualityTiers[0])},
	}
	if diff := cmp.Diff(want, ctl.sels, cmp.AllowUnexported(stream.Track{}, stream.Quality{})); diff != "" {
		t.Fatalf("HandleKeyEvent() selections mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleKeyEventConnectToggle(t *testing.T) {
	ctl := &fakeControls{}
	p, _ := newTestScreen(ctl)
	p.Hint = "Living Room"
	ctx := context.Background()

	p.HandleKeyEvent(ctx, runeKey('x'))
	p.HandleKeyEvent(ctx, runeKey('c'))
	p.HandleKeyEvent(ctx, runeKey('c'))
	p.HandleKeyEvent(ctx, runeKey('x'))

	if diff := cmp.Diff([]string{"Connect", "Disconnect"}, ctl.calls); diff != "" {
		t.Fatalf("HandleKeyEvent() calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Living Room"}, ctl.hints); diff != "" {
		t.Fatalf("HandleKeyEvent() hints mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleKeyEventReconnect(t *testing.T) {
	ctl := &fakeControls{}
	p, _ := newTestScreen(ctl)
	ctx := context.Background()

	p.HandleKeyEvent(ctx, runeKey('r'))
	p.HandleKeyEvent(ctx, runeKey('r'))

	if diff := cmp.Diff([]string{"Reconnect"}, ctl.calls); diff != "" {
		t.Fatalf("HandleKeyEvent() calls mismatch (-want +got):\n%s", diff)
	}
	if p.lastAction != "Casting" {
		t.Fatalf("lastAction got = %q, want %q", p.lastAction, "Casting")
	}

	failing := &fakeControls{err: errors.New("no previous device")}
	p, _ = newTestScreen(failing)
	p.HandleKeyEvent(ctx, runeKey('r'))
	if failing.target != playback.Local || p.lastAction != "Playing here" {
		t.Fatalf("failed reconnect got target %v, lastAction %q", failing.target, p.lastAction)
	}
}

func TestHandleKeyEventScan(t *testing.T) {
	tests := []struct {
		name string
		devs []devices.Device
		want string
	}{
		{"none", nil, "No receivers found"},
		{"two", []devices.Device{{Name: "Den TV"}, {Name: "Living Room"}}, "Receivers: Den TV, Living Room"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeControls{devs: tt.devs}
			p, _ := newTestScreen(ctl)

			p.HandleKeyEvent(context.Background(), runeKey('l'))
			if p.lastAction != tt.want {
				t.Fatalf("lastAction got = %q, want %q", p.lastAction, tt.want)
			}
			if ctl.target != playback.Local {
				t.Fatalf("scan changed target to %v", ctl.target)
			}
		})
	}
}

func TestHandleKeyEventExit(t *testing.T) {
	ctl := &fakeControls{}
	p, exited := newTestScreen(ctl)

	p.HandleKeyEvent(context.Background(), tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone))
	if !*exited {
		t.Fatal("HandleKeyEvent(ESC) did not cancel the context")
	}
	if diff := cmp.Diff([]string{"Stop"}, ctl.calls); diff != "" {
		t.Fatalf("HandleKeyEvent(ESC) calls mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitorAndSessionEvents(t *testing.T) {
	p, _ := newTestScreen(&fakeControls{})

	p.OnMonitorEvent(monitor.Event{Type: monitor.SkipAvailable, Kind: monitor.Intro})
	p.OnMonitorEvent(monitor.Event{Type: monitor.CountdownStarted, Seconds: 20})
	p.OnMonitorEvent(monitor.Event{Type: monitor.CountdownTick, Seconds: 19})
	p.OnSessionEvent(session.Event{Kind: session.StateChanged, State: session.State{Phase: session.Connected, DeviceName: "Den TV"}})
	p.Notify(playback.Notice{Level: playback.LevelWarning, Message: "careful"})

	if p.skipKind != "intro" || p.countdown != 19 || p.device != "Den TV" || p.notice != "careful" {
		t.Fatalf("screen state got = %q %d %q %q", p.skipKind, p.countdown, p.device, p.notice)
	}
	if p.lastAction != "Connected to Den TV" {
		t.Fatalf("lastAction got = %q, want %q", p.lastAction, "Connected to Den TV")
	}

	p.OnMonitorEvent(monitor.Event{Type: monitor.SkipCleared})
	p.OnMonitorEvent(monitor.Event{Type: monitor.CountdownCancelled})
	p.OnSessionEvent(session.Event{Kind: session.Dropped, State: session.State{Phase: session.Disconnected}})
	if p.skipKind != "" || p.countdown != 0 || p.lastAction != "Connection lost" {
		t.Fatalf("screen state after clear got = %q %d %q", p.skipKind, p.countdown, p.lastAction)
	}
}

func TestRender(t *testing.T) {
	s := tcell.NewSimulationScreen("")
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Fini)
	s.SetSize(100, 30)

	ctl := &fakeControls{
		hasItem: true,
		item:    playback.Item{ID: "ep1", Display: stream.Display{Title: "Pilot"}},
		cur:     61,
		dur:     3600,
	}
	p := newScreen(s, ctl, func() {}, zerolog.Nop())
	p.ready = true
	p.OnMonitorEvent(monitor.Event{Type: monitor.SkipAvailable, Kind: monitor.Recap})

	cells, w, _ := s.GetContents()
	var b strings.Builder
	for i, c := range cells {
		if i > 0 && i%w == 0 {
			b.WriteByte('\n')
		}
		if len(c.Runes) > 0 {
			b.WriteRune(c.Runes[0])
		}
	}
	out := b.String()
	for _, want := range []string{"Title: Pilot", "Playing here", "00:01:01 / 01:00:00", `"s" (Skip recap)`} {
		if !strings.Contains(out, want) {
			t.Fatalf("render() output missing %q:\n%s", want, out)
		}
	}
}

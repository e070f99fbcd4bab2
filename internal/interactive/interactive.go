// Package interactive is the terminal front end. It shows what is playing
// and where, and maps key presses to playback controls.
package interactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/encoding"
	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/monitor"
	"go2tv.app/handoff/internal/playback"
	"go2tv.app/handoff/internal/session"
	"go2tv.app/handoff/internal/stream"
	"go2tv.app/handoff/soapcalls"
)

// Controls is the part of *playback.Controller the screen drives.
type Controls interface {
	Target() playback.Target
	Item() (playback.Item, bool)
	Position() (current, duration float64)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Stop(ctx context.Context) error
	ChangeTrack(ctx context.Context, sel stream.Selection) error
	SkipSegment(ctx context.Context) error
	DismissCountdown()
	Connect(ctx context.Context, hint string) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	ScanForDevices(ctx context.Context) ([]devices.Device, error)
}

const refreshInterval = time.Second

// Screen is the interactive terminal.
type Screen struct {
	Current     tcell.Screen
	ctl         Controls
	exitCTXfunc context.CancelFunc
	seekLimit   *rate.Limiter
	logger      zerolog.Logger

	// Hint is passed to Connect when casting starts.
	Hint string

	mu         sync.RWMutex
	ready      bool
	lastAction string
	notice     string
	skipKind   string
	countdown  int
	device     string
	paused     bool
}

// NewScreen creates a screen on the process terminal.
func NewScreen(ctl Controls, ctxCancel context.CancelFunc, logger zerolog.Logger) (*Screen, error) {
	encoding.Register()
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("interactive: %w", err)
	}
	return newScreen(s, ctl, ctxCancel, logger), nil
}

func newScreen(s tcell.Screen, ctl Controls, ctxCancel context.CancelFunc, logger zerolog.Logger) *Screen {
	return &Screen{
		Current:     s,
		ctl:         ctl,
		exitCTXfunc: ctxCancel,
		seekLimit:   rate.NewLimiter(rate.Every(250*time.Millisecond), 2),
		logger:      logger,
		lastAction:  "Waiting for status...",
	}
}

func (p *Screen) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

func (p *Screen) emitCentered(y int, style tcell.Style, str string) {
	w, _ := p.Current.Size()
	p.emitStr(w/2-runewidth.StringWidth(str)/2, y, style, str)
}

// EmitMsg records the last action and redraws.
func (p *Screen) EmitMsg(inputtext string) {
	p.mu.Lock()
	p.lastAction = inputtext
	p.mu.Unlock()
	p.render()
}

func (p *Screen) render() {
	p.mu.RLock()
	if !p.ready {
		p.mu.RUnlock()
		return
	}
	lastAction, notice := p.lastAction, p.notice
	skipKind, countdown, device := p.skipKind, p.countdown, p.device
	p.mu.RUnlock()

	title := "Nothing loaded"
	if item, ok := p.ctl.Item(); ok {
		title = item.Display.Title
		if title == "" {
			title = item.ID
		}
	}
	where := "Playing here"
	if p.ctl.Target() == playback.Remote {
		where = "Casting to " + device
	}
	cur, dur := p.ctl.Position()

	s := p.Current
	_, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)
	warnStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorYellow)

	s.Clear()

	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to stop and exit.")
	p.emitCentered(h/2-4, tcell.StyleDefault, "Title: "+title)
	p.emitCentered(h/2-3, tcell.StyleDefault, where)
	switch lastAction {
	case "Waiting for status...", "Connecting...":
		p.emitCentered(h/2-1, blinkStyle, lastAction)
	default:
		p.emitCentered(h/2-1, boldStyle, lastAction)
	}
	p.emitCentered(h/2, tcell.StyleDefault, soapcalls.FormatClock(cur)+" / "+soapcalls.FormatClock(dur))

	if skipKind != "" {
		p.emitCentered(h/2+2, boldStyle, fmt.Sprintf(`"s" (Skip %s)`, skipKind))
	}
	if countdown > 0 {
		p.emitCentered(h/2+3, boldStyle, fmt.Sprintf(`Next item in %ds, "d" (Dismiss)`, countdown))
	}
	if notice != "" {
		p.emitCentered(h/2+5, warnStyle, notice)
	}

	for i, line := range helpLines {
		p.emitCentered(h/2+7+i, tcell.StyleDefault, line)
	}
	s.Show()
}

var helpLines = []string{
	`"p" (Play/Pause)  "Left" "Right" (Seek)`,
	`"a" (Audio)  "t" (Subtitles)  "b" (Quality)`,
	`"c" (Cast)  "r" (Recast)  "x" (Stop casting)  "l" (Receivers)`,
}

// Notify shows a notice under the status line.
func (p *Screen) Notify(n playback.Notice) {
	p.mu.Lock()
	p.notice = n.Message
	p.mu.Unlock()
	p.render()
}

// OnMonitorEvent updates the skip and countdown prompts.
func (p *Screen) OnMonitorEvent(ev monitor.Event) {
	p.mu.Lock()
	switch ev.Type {
	case monitor.SkipAvailable:
		p.skipKind = ev.Kind.String()
	case monitor.SkipCleared:
		p.skipKind = ""
	case monitor.CountdownStarted, monitor.CountdownTick:
		p.countdown = ev.Seconds
	case monitor.CountdownCancelled, monitor.Advance:
		p.countdown = 0
	}
	p.mu.Unlock()
	p.render()
}

// OnSessionEvent tracks the receiver name and connection progress.
func (p *Screen) OnSessionEvent(ev session.Event) {
	if ev.Kind == session.MediaUpdated {
		if ev.State.Media != nil {
			p.mu.Lock()
			p.paused = ev.State.Media.Paused
			p.mu.Unlock()
		}
		return
	}

	p.mu.Lock()
	p.device = ev.State.DeviceName
	p.mu.Unlock()

	switch ev.State.Phase {
	case session.Connecting:
		p.EmitMsg("Connecting...")
	case session.Connected:
		p.EmitMsg("Connected to " + ev.State.DeviceName)
	case session.Disconnected:
		if ev.Kind == session.Dropped {
			p.EmitMsg("Connection lost")
			return
		}
		p.render()
	}
}

// InterInit starts the interactive terminal and blocks until it exits.
func (p *Screen) InterInit(ctx context.Context) error {
	s := p.Current
	if err := s.Init(); err != nil {
		return fmt.Errorf("interactive: %w", err)
	}

	defStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite)
	s.SetStyle(defStyle)

	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()
	p.render()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.Fini()
				return
			case <-done:
				return
			case <-ticker.C:
				p.render()
			}
		}
	}()

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.render()
		case *tcell.EventKey:
			p.HandleKeyEvent(ctx, ev)
		}
	}
}

// Fini closes the screen and exits.
func (p *Screen) Fini() {
	p.mu.Lock()
	wasReady := p.ready
	p.ready = false
	p.mu.Unlock()
	if wasReady {
		p.Current.Fini()
	}
	p.exitCTXfunc()
}

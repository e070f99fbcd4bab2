package interactive

import (
	"context"
	"strings"

	"github.com/gdamore/tcell/v2"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/playback"
	"go2tv.app/handoff/internal/stream"
)

type action int

const (
	actionNone action = iota
	actionExit
	actionPlayPause
	actionSeekBack
	actionSeekForward
	actionSkip
	actionDismiss
	actionAudio
	actionSubtitle
	actionQuality
	actionConnect
	actionDisconnect
	actionReconnect
	actionScan
)

const (
	seekStep = 10.0
	// maxTrack is the highest track index the cycle keys reach before
	// wrapping back to the server default.
	maxTrack = 7
)

// qualityTiers are the bitrate ceilings the quality key cycles through
// after Auto.
var qualityTiers = []int{20_000_000, 8_000_000, 4_000_000, 1_500_000}

func actionFromKey(ev *tcell.EventKey) action {
	switch ev.Key() {
	case tcell.KeyEscape:
		return actionExit
	case tcell.KeyLeft:
		return actionSeekBack
	case tcell.KeyRight:
		return actionSeekForward
	case tcell.KeyRune:
	default:
		return actionNone
	}

	switch ev.Rune() {
	case 'p', ' ':
		return actionPlayPause
	case 's':
		return actionSkip
	case 'd':
		return actionDismiss
	case 'a':
		return actionAudio
	case 't':
		return actionSubtitle
	case 'b':
		return actionQuality
	case 'c':
		return actionConnect
	case 'x':
		return actionDisconnect
	case 'r':
		return actionReconnect
	case 'l':
		return actionScan
	}
	return actionNone
}

// nextTrack cycles default, 0, 1 ... maxTrack, default.
func nextTrack(t stream.Track) stream.Track {
	i, ok := t.Index()
	switch {
	case !ok:
		return stream.TrackIndex(0)
	case i >= maxTrack:
		return stream.DefaultTrack
	}
	return stream.TrackIndex(i + 1)
}

// nextQuality cycles Auto through qualityTiers and back.
func nextQuality(q stream.Quality) stream.Quality {
	if q.IsAuto() {
		return stream.Tier(qualityTiers[0])
	}
	for i, c := range qualityTiers {
		if c == q.Ceiling() && i+1 < len(qualityTiers) {
			return stream.Tier(qualityTiers[i+1])
		}
	}
	return stream.Auto
}

// HandleKeyEvent handles key press events.
func (p *Screen) HandleKeyEvent(ctx context.Context, ev *tcell.EventKey) {
	act := actionFromKey(ev)
	if act == actionNone {
		return
	}

	var (
		err error
		msg string
	)
	switch act {
	case actionExit:
		_ = p.ctl.Stop(ctx)
		p.Fini()
		return
	case actionPlayPause:
		p.mu.RLock()
		paused := p.paused
		p.mu.RUnlock()
		if paused {
			err, msg = p.ctl.Play(ctx), "Playing"
		} else {
			err, msg = p.ctl.Pause(ctx), "Paused"
		}
		if err == nil {
			p.mu.Lock()
			p.paused = !paused
			p.mu.Unlock()
		}
	case actionSeekBack, actionSeekForward:
		if !p.seekLimit.Allow() {
			return
		}
		cur, dur := p.ctl.Position()
		to := cur + seekStep
		if act == actionSeekBack {
			to = cur - seekStep
		}
		to = max(to, 0)
		if dur > 0 {
			to = min(to, dur)
		}
		err, msg = p.ctl.Seek(ctx, to), "Seeking"
	case actionSkip:
		err, msg = p.ctl.SkipSegment(ctx), "Skipped"
	case actionDismiss:
		p.ctl.DismissCountdown()
		msg = "Autoplay dismissed"
	case actionAudio, actionSubtitle, actionQuality:
		item, ok := p.ctl.Item()
		if !ok {
			return
		}
		sel := item.Selection
		switch act {
		case actionAudio:
			sel = sel.WithAudio(nextTrack(sel.Audio))
			msg = "Audio track " + sel.Audio.String()
		case actionSubtitle:
			sel = sel.WithSubtitle(nextTrack(sel.Subtitle))
			msg = "Subtitle track " + sel.Subtitle.String()
		default:
			sel = sel.WithQuality(nextQuality(sel.Quality))
			msg = "Quality " + sel.Quality.String()
		}
		err = p.ctl.ChangeTrack(ctx, sel)
	case actionConnect, actionReconnect:
		if p.ctl.Target() == playback.Remote {
			return
		}
		p.EmitMsg("Connecting...")
		if act == actionReconnect {
			err, msg = p.ctl.Reconnect(ctx), "Casting"
		} else {
			err, msg = p.ctl.Connect(ctx, p.Hint), "Casting"
		}
	case actionDisconnect:
		if p.ctl.Target() != playback.Remote {
			return
		}
		err, msg = p.ctl.Disconnect(ctx), "Playing here"
	case actionScan:
		p.EmitMsg("Looking for receivers...")
		var found []devices.Device
		found, err = p.ctl.ScanForDevices(ctx)
		msg = scanMessage(found)
	}

	if err != nil {
		// The controller already raised a notice.
		p.logger.Debug().Str("Method", "HandleKeyEvent").Int("action", int(act)).Err(err).Msg("key action failed")
		if act == actionConnect || act == actionReconnect {
			p.EmitMsg("Playing here")
			return
		}
		p.render()
		return
	}
	p.mu.Lock()
	p.notice = ""
	p.mu.Unlock()
	p.EmitMsg(msg)
}

func scanMessage(found []devices.Device) string {
	if len(found) == 0 {
		return "No receivers found"
	}
	names := make([]string, 0, len(found))
	for _, d := range found {
		names = append(names, d.Name)
	}
	return "Receivers: " + strings.Join(names, ", ")
}

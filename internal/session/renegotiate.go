package session

import (
	"context"

	"go2tv.app/handoff/internal/stream"
)

// Renegotiation outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeEnded    = "ended"
)

// ChangeTrack switches audio, subtitle or quality on the remote player.
// Receivers cannot switch in place, so the stream is reloaded from the
// position captured when the call started.
func (m *Machine) ChangeTrack(ctx context.Context, sel stream.Selection) error {
	m.mu.Lock()
	player, err := m.connectedLocked()
	if err == nil && (m.state.Media == nil || m.request == nil) {
		err = ErrNotConnected
	}
	if err != nil {
		m.mu.Unlock()
		m.observer.Renegotiated(OutcomeRejected)
		return err
	}

	resume := m.state.Media.CurrentTime
	prev := *m.state.Media
	req := *m.request
	req.Selection = sel
	req.ResumeSeconds = resume
	m.reloading = true
	gen := m.gen
	m.mu.Unlock()

	desc := m.builder.Build(req.ItemID, req.Selection, req.ResumeSeconds, req.Display)
	m.logger.Debug().Str("Method", "ChangeTrack").Str("Item", req.ItemID).
		Str("Audio", sel.Audio.String()).Str("Subtitle", sel.Subtitle.String()).
		Str("Quality", sel.Quality.String()).Float64("Resume", resume).Msg("reloading")

	loadErr := player.Load(ctx, desc)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.observer.Renegotiated(OutcomeEnded)
		return ErrSessionEnded
	}
	m.reloading = false
	if loadErr != nil {
		m.mu.Unlock()
		m.observer.Renegotiated(OutcomeFailed)
		m.logger.Error().Str("Method", "ChangeTrack").Err(loadErr).Msg("reload failed")
		return &LoadError{ItemID: req.ItemID, Err: loadErr}
	}

	next := prev
	next.Title = desc.Title
	next.Subtitle = desc.SubtitleLine
	next.ImageURL = desc.PosterURL
	next.CurrentTime = desc.ResumeSeconds
	next.Paused = false
	req.ResumeSeconds = desc.ResumeSeconds
	m.request = &req
	m.state.Media = &next
	m.anchorLocked(desc.ResumeSeconds)
	snap := m.state.clone()
	m.mu.Unlock()

	m.observer.Renegotiated(OutcomeOK)
	m.emit(Event{Kind: MediaUpdated, State: snap})
	return nil
}

package castprotocol

import "github.com/vishen/go-chromecast/cast"

// Player states reported by the default media receiver.
const (
	StatePlaying   = "PLAYING"
	StatePaused    = "PAUSED"
	StateBuffering = "BUFFERING"
	StateIdle      = "IDLE"
)

// CastStatus represents current Chromecast playback state.
type CastStatus struct {
	PlayerState string  // "PLAYING", "PAUSED", "IDLE", "BUFFERING"
	IdleReason  string  // "FINISHED", "CANCELLED", "ERROR", ...
	CurrentTime float64 // seconds
	Duration    float64 // seconds, 0 while unknown
	Volume      float32
	Muted       bool
	MediaTitle  string
	ContentType string
}

// Finished reports whether the receiver ran off the end of the media.
func (s *CastStatus) Finished() bool {
	return s.PlayerState == StateIdle && s.IdleReason == "FINISHED"
}

func statusFrom(media *cast.Media, vol *cast.Volume) *CastStatus {
	status := &CastStatus{PlayerState: StateIdle}
	if vol != nil {
		status.Volume = vol.Level
		status.Muted = vol.Muted
	}
	if media == nil {
		return status
	}

	if media.PlayerState != "" {
		status.PlayerState = media.PlayerState
	}
	status.IdleReason = media.IdleReason
	status.CurrentTime = float64(media.CurrentTime)
	if media.Media.Duration > 0 {
		status.Duration = float64(media.Media.Duration)
	}
	status.ContentType = media.Media.ContentType
	status.MediaTitle = media.Media.Metadata.Title
	return status
}

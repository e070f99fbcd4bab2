package playback

import (
	"errors"
	"fmt"

	"go2tv.app/handoff/internal/session"
)

// Level of a user-facing notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is what the user gets told when something went wrong.
type Notice struct {
	Level   Level
	Message string
	Err     error
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// ErrNotSupported is returned by local players for operations they lack.
var ErrNotSupported = errors.New("playback: not supported by the local player")

// ErrNoSegment is returned by SkipSegment when nothing is skippable.
var ErrNoSegment = errors.New("playback: no active segment")

func noticeFor(method string, err error) Notice {
	var le *session.LoadError
	switch {
	case errors.Is(err, session.ErrUnsupported):
		return Notice{LevelError, "Casting is not available here", err}
	case errors.Is(err, session.ErrSessionDropped):
		return Notice{LevelWarning, "Lost the connection to the receiver, continuing here", err}
	case errors.Is(err, session.ErrDeclined):
		return Notice{LevelWarning, "Could not connect to the receiver", err}
	case errors.Is(err, session.ErrBusy):
		return Notice{LevelInfo, "Still working on the last request, try again in a moment", err}
	case errors.Is(err, session.ErrNotConnected):
		return Notice{LevelWarning, "Not connected to a receiver", err}
	case errors.Is(err, session.ErrSessionEnded):
		return Notice{LevelInfo, "The cast session ended", err}
	case errors.As(err, &le) && method == "ChangeTrack":
		return Notice{LevelError, "Could not switch tracks, playback continues unchanged", err}
	case errors.As(err, &le):
		return Notice{LevelError, fmt.Sprintf("Could not play %s on the receiver", le.ItemID), err}
	case errors.Is(err, ErrNotSupported):
		return Notice{LevelInfo, "The local player cannot do that", err}
	case errors.Is(err, ErrNoSegment):
		return Notice{LevelInfo, "Nothing to skip right now", err}
	}
	return Notice{LevelError, fmt.Sprintf("%s failed: %v", method, err), err}
}

package session

import (
	"context"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/capability"
	"go2tv.app/handoff/internal/stream"
)

// Phase of the remote session.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MediaInfo is what the remote player is showing.
type MediaInfo struct {
	Title       string
	Subtitle    string
	ImageURL    string
	Duration    float64
	CurrentTime float64
	Paused      bool
}

// State is a snapshot of the session. TargetHint is set while Connecting;
// the device fields and SessionID while Connected.
type State struct {
	Phase      Phase
	TargetHint string
	DeviceName string
	DeviceID   string
	SessionID  string
	Media      *MediaInfo
}

func (s State) clone() State {
	if s.Media != nil {
		m := *s.Media
		s.Media = &m
	}
	return s
}

// Request identifies what should be playing on the remote player.
type Request struct {
	ItemID        string
	Selection     stream.Selection
	ResumeSeconds float64
	Duration      float64
	Display       stream.Display
}

// Status is one reading of the remote player.
type Status struct {
	CurrentTime float64
	Duration    float64
	Paused      bool
	// Idle means nothing is loaded, or the receiver reached the end.
	Idle bool
	// Finished is set with Idle when the receiver says it played to the end.
	Finished bool
}

// RemotePlayer is the narrow surface the machine drives. Adapters in
// internal/remote wrap the Chromecast and DLNA clients.
type RemotePlayer interface {
	Load(ctx context.Context, d stream.Descriptor) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Close() error
}

// Connector opens a RemotePlayer for a discovered device.
type Connector interface {
	Connect(ctx context.Context, d devices.Device) (RemotePlayer, error)
}

// Discoverer is satisfied by *devices.Watcher.
type Discoverer interface {
	Devices() []devices.Device
	Scan(ctx context.Context) ([]devices.Device, error)
}

// CapabilitySource is satisfied by *capability.Guard.
type CapabilitySource interface {
	Await(ctx context.Context) capability.Capability
}

// DescriptorBuilder is satisfied by *stream.Builder.
type DescriptorBuilder interface {
	Build(itemID string, sel stream.Selection, resumeSeconds float64, display stream.Display) stream.Descriptor
}

// Observer receives lifecycle signals, e.g. for metrics.
type Observer interface {
	PhaseEntered(p Phase)
	SessionDropped()
	Renegotiated(outcome string)
}

type nopObserver struct{}

func (nopObserver) PhaseEntered(Phase)  {}
func (nopObserver) SessionDropped()     {}
func (nopObserver) Renegotiated(string) {}

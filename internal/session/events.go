package session

// EventKind tells subscribers what changed.
type EventKind int

const (
	StateChanged EventKind = iota
	MediaUpdated
	Dropped
)

func (k EventKind) String() string {
	switch k {
	case MediaUpdated:
		return "media-updated"
	case Dropped:
		return "dropped"
	default:
		return "state-changed"
	}
}

// Event is delivered to subscribers outside the machine lock. Err is set on
// Dropped and wraps ErrSessionDropped.
type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// Subscribe registers fn for every event. Handlers run on the goroutine that
// caused the event and must not block.
func (m *Machine) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Machine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}

	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

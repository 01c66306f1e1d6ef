package engine

// EventType discriminates progress events emitted by long-running
// library operations.
type EventType string

const (
	// EventPhase announces entry into a named phase of an operation.
	EventPhase EventType = "phase"
	// EventProgress reports per-item progress within the current phase.
	EventProgress EventType = "progress"
	// EventRejected reports one file that could not be processed, with
	// its classified reason.
	EventRejected EventType = "rejected"
	// EventComplete is the final event of a successful operation.
	EventComplete EventType = "complete"
	// EventError is the final event of a failed operation.
	EventError EventType = "error"
)

// Event is one progress update. Fields are populated according to
// Type; unused fields are zero and omitted from JSON.
type Event struct {
	Type    EventType `json:"type"`
	Phase   string    `json:"phase,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Path    string    `json:"path,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Stats   any       `json:"stats,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Sink carries progress events from an operation to one observer. A
// nil *Sink is valid and discards everything, so operations never
// check for observers.
type Sink struct {
	ch chan Event
}

// NewSink creates a sink with the given channel buffer.
func NewSink(buffer int) *Sink {
	return &Sink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *Sink) Events() <-chan Event {
	return s.ch
}

func (s *Sink) send(ev Event) {
	if s == nil {
		return
	}
	s.ch <- ev
}

func (s *Sink) phase(name string, total int) {
	s.send(Event{Type: EventPhase, Phase: name, Total: total})
}

func (s *Sink) progress(phase string, current, total int) {
	s.send(Event{Type: EventProgress, Phase: phase, Current: current, Total: total})
}

func (s *Sink) rejected(path, reason string) {
	s.send(Event{Type: EventRejected, Path: path, Reason: reason})
}

func (s *Sink) complete(stats any) {
	s.send(Event{Type: EventComplete, Stats: stats})
}

func (s *Sink) fail(err error) {
	s.send(Event{Type: EventError, Message: err.Error()})
}

// close shuts the channel. Operations own their sink's lifecycle: the
// observer reads until the channel closes.
func (s *Sink) close() {
	if s == nil {
		return
	}
	close(s.ch)
}

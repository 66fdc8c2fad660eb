package domain

// EventType represents the type of a pipeline event.
type EventType string

const (
	EventTypeLog     EventType = "log"
	EventTypeDebug   EventType = "debug"
	EventTypeResult  EventType = "result"
	EventTypeFailure EventType = "error"
)

// Event is a pipeline event. The set of implementations is closed:
// LogEvent, DebugEvent, ResultEvent and FailureEvent.
type Event interface {
	Type() EventType
	isEvent()
}

// LogEvent is a human-readable progress line.
type LogEvent struct {
	Message string
}

// DebugEvent is a verbose diagnostic line.
type DebugEvent struct {
	Message string
}

// ResultEvent ends a successful (or degraded) run.
type ResultEvent struct {
	Artifacts  Artifacts
	Preview    *string
	PreviewURL string
	Status     ResultStatus
	Logs       string
}

// FailureEvent ends a failed run.
type FailureEvent struct {
	Reason string
	Kind   FailureKind
}

func (LogEvent) Type() EventType     { return EventTypeLog }
func (DebugEvent) Type() EventType   { return EventTypeDebug }
func (ResultEvent) Type() EventType  { return EventTypeResult }
func (FailureEvent) Type() EventType { return EventTypeFailure }

func (LogEvent) isEvent()     {}
func (DebugEvent) isEvent()   {}
func (ResultEvent) isEvent()  {}
func (FailureEvent) isEvent() {}

// IsTerminal reports whether the event ends a run.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case ResultEvent, FailureEvent:
		return true
	}
	return false
}

// HasPreview reports whether the result carries a preview document.
func (r ResultEvent) HasPreview() bool {
	return r.Preview != nil
}

package driven

import "time"

// EventLevel classifies event severity.
type EventLevel string

// Event levels.
const (
	LevelDebug EventLevel = "debug"
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// Event is a structured status report from a core component.
type Event struct {
	// Component names the emitter: "chunker", "ingest", "retrieval".
	Component string

	// Name identifies the event (e.g. "doc.skipped", "batch.failed").
	Name string

	Level EventLevel

	// Fields carries event-specific key/value data.
	Fields map[string]any

	At time.Time
}

// EventSink receives component events. Sinks are injected into the
// chunker, the ingestion pipeline and the retrieval engine; no component
// discovers a sink through global state.
//
// Emission must never fail the main pipeline: implementations absorb
// their own I/O errors and surface them through a distinct, inspectable
// channel (see events.FileSink.Errs) rather than returning them here.
type EventSink interface {
	Emit(event Event)
}

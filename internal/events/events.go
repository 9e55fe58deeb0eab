// Package events provides EventSink implementations.
//
// Core components (chunker, ingestion, retrieval) report status through
// an injected driven.EventSink rather than global logger state. This
// package supplies a slog-backed sink for normal operation, a file sink
// emitting newline-delimited JSON, and an in-memory collector for tests.
package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
)

// SlogSink forwards events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

var _ driven.EventSink = (*SlogSink)(nil)

// NewSlogSink creates a sink backed by the given logger.
// A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the event at its mapped level.
func (s *SlogSink) Emit(event driven.Event) {
	attrs := make([]any, 0, 2+2*len(event.Fields))
	attrs = append(attrs, "component", event.Component)
	for k, v := range event.Fields {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case driven.LevelDebug:
		s.logger.Debug(event.Name, attrs...)
	case driven.LevelWarn:
		s.logger.Warn(event.Name, attrs...)
	case driven.LevelError:
		s.logger.Error(event.Name, attrs...)
	default:
		s.logger.Info(event.Name, attrs...)
	}
}

// maxSinkErrs bounds the error buffer of a FileSink.
const maxSinkErrs = 64

// FileSink writes events as newline-delimited JSON to a writer.
// Write failures never propagate into the emitting pipeline; they are
// retained and inspectable via Errs.
type FileSink struct {
	mu   sync.Mutex
	w    io.Writer
	errs []error
}

var _ driven.EventSink = (*FileSink)(nil)

// NewFileSink creates a sink writing NDJSON events to w.
func NewFileSink(w io.Writer) *FileSink {
	return &FileSink{w: w}
}

type fileEvent struct {
	Component string         `json:"component"`
	Name      string         `json:"name"`
	Level     string         `json:"level"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Emit writes the event. Failures are recorded, not returned.
func (s *FileSink) Emit(event driven.Event) {
	line, err := json.Marshal(fileEvent{
		Component: event.Component,
		Name:      event.Name,
		Level:     string(event.Level),
		Fields:    event.Fields,
		At:        event.At,
	})
	if err != nil {
		s.record(err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		s.recordLocked(err)
	}
}

// Errs returns the emission failures recorded so far.
func (s *FileSink) Errs() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

func (s *FileSink) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(err)
}

func (s *FileSink) recordLocked(err error) {
	if len(s.errs) < maxSinkErrs {
		s.errs = append(s.errs, err)
	}
}

// Collector retains events in memory for inspection in tests.
type Collector struct {
	mu     sync.Mutex
	events []driven.Event
}

var _ driven.EventSink = (*Collector)(nil)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit appends the event.
func (c *Collector) Emit(event driven.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a copy of all collected events.
func (c *Collector) Events() []driven.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]driven.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Named returns the collected events with the given name.
func (c *Collector) Named(name string) []driven.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []driven.Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Discard is a sink that drops everything. Used when a caller passes a
// nil sink.
type Discard struct{}

var _ driven.EventSink = Discard{}

// Emit drops the event.
func (Discard) Emit(driven.Event) {}

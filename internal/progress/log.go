// Package progress records pipeline progress as an append-only log and
// forwards each event to a best-effort sink.
package progress

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
)

// Total is the fixed denominator of every event.
const Total = 100

// ErrNoObserver is returned by a Sink that has nobody to deliver to.
var ErrNoObserver = errors.New("no progress observer connected")

// Event is one progress update.
type Event struct {
	Message   string
	Step      int
	Total     int
	Timestamp time.Time
}

// Model converts the event to its wire form.
func (e Event) Model() models.ProgressEvent {
	return models.ProgressEvent{
		Message:   e.Message,
		Step:      e.Step,
		Total:     e.Total,
		Timestamp: e.Timestamp,
	}
}

// Sink delivers events to an observer. Failures are tolerated by Log.
type Sink interface {
	Emit(connectionID string, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(connectionID string, ev Event) error

func (f SinkFunc) Emit(connectionID string, ev Event) error { return f(connectionID, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(string, Event) error { return nil })

// Log is the ordered progress history of one pipeline run. Steps never
// decrease and never exceed Total.
type Log struct {
	mu           sync.Mutex
	connectionID string
	sink         Sink
	events       []Event
	muted        bool
	now          func() time.Time
}

// NewLog creates a log forwarding to sink. A nil sink discards.
func NewLog(connectionID string, sink Sink) *Log {
	if sink == nil {
		sink = Discard
	}
	return &Log{
		connectionID: connectionID,
		sink:         sink,
		now:          time.Now,
	}
}

// Emit appends an event at step, clamped to keep the log monotonic.
func (l *Log) Emit(step int, message string) Event {
	l.mu.Lock()
	if step > Total {
		step = Total
	}
	if step < 0 {
		step = 0
	}
	if n := len(l.events); n > 0 && step < l.events[n-1].Step {
		step = l.events[n-1].Step
	}
	ev := Event{Message: message, Step: step, Total: Total, Timestamp: l.now()}
	l.events = append(l.events, ev)
	muted := l.muted
	l.mu.Unlock()

	if muted {
		metrics.ProgressEventsDropped.Inc()
		return ev
	}
	l.notify(ev)
	return ev
}

// notify is fail-silent: the log already holds the event.
func (l *Log) notify(ev Event) {
	if err := l.sink.Emit(l.connectionID, ev); err != nil {
		metrics.ProgressEventsDropped.Inc()
		if errors.Is(err, ErrNoObserver) {
			slog.Debug("No progress observer, event not delivered.", "connectionId", l.connectionID, "step", ev.Step)
			return
		}
		slog.Debug("Progress delivery failed.", "connectionId", l.connectionID, "step", ev.Step, "error", err)
	}
}

// Mute stops forwarding to the sink. Events are still recorded.
func (l *Log) Mute() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.muted = true
}

// Events returns a copy of the log.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Models returns the log in wire form.
func (l *Log) Models() []models.ProgressEvent {
	events := l.Events()
	out := make([]models.ProgressEvent, len(events))
	for i, ev := range events {
		out[i] = ev.Model()
	}
	return out
}

// Last returns the latest step, or 0 for an empty log.
func (l *Log) Last() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Step
}

// Span returns a view that maps sub-progress into [from, to].
func (l *Log) Span(from, to int) Span {
	return Span{log: l, from: from, to: to}
}

// Span reports progress of one stage inside its reserved band.
// The zero Span discards reports.
type Span struct {
	log      *Log
	from, to int
}

// Start emits at the beginning of the band.
func (s Span) Start(message string) {
	if s.log == nil {
		return
	}
	s.log.Emit(s.from, message)
}

// Report emits done/total of the band's work.
func (s Span) Report(done, total int, message string) {
	if s.log == nil {
		return
	}
	step := s.to
	if total > 0 {
		step = s.from + (s.to-s.from)*done/total
	}
	s.log.Emit(step, message)
}

// Finish emits at the end of the band.
func (s Span) Finish(message string) {
	if s.log == nil {
		return
	}
	s.log.Emit(s.to, message)
}

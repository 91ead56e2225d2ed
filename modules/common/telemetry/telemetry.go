// Package telemetry carries structured pipeline events. Components receive an
// Emitter instead of writing to the console so callers and tests can observe
// every stage decision.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one structured diagnostic.
type Event struct {
	RequestID string                 `json:"requestId"`
	Stage     string                 `json:"stage"`
	Name      string                 `json:"name"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Time      time.Time              `json:"time"`
}

// Emitter receives events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(Event)
}

type nop struct{}

func (nop) Emit(Event) {}

// Nop discards everything.
func Nop() Emitter { return nop{} }

// OrNop returns e, or a discarding emitter when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return nop{}
	}
	return e
}

// Func adapts a plain function.
type Func func(Event)

func (f Func) Emit(e Event) { f(e) }

type multi []Emitter

func (m multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// Multi fans an event out to every non-nil emitter.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// ZapSink writes events as structured log lines.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Emit(e Event) {
	fields := make([]zap.Field, 0, len(e.Fields)+2)
	fields = append(fields, zap.String("request_id", e.RequestID), zap.String("stage", e.Stage))
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	s.log.Info("📡 ["+e.Stage+"] "+e.Name, fields...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the event names in emission order.
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

// Find returns the events with the given name.
func (r *Recorder) Find(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Scoped stamps a request id and stage onto every event it forwards.
type Scoped struct {
	next      Emitter
	requestID string
	stage     string
}

func NewScoped(next Emitter, requestID, stage string) *Scoped {
	return &Scoped{next: OrNop(next), requestID: requestID, stage: stage}
}

// Stage returns a copy scoped to another stage.
func (s *Scoped) Stage(stage string) *Scoped {
	return &Scoped{next: s.next, requestID: s.requestID, stage: stage}
}

func (s *Scoped) Emit(e Event) {
	if e.RequestID == "" {
		e.RequestID = s.requestID
	}
	if e.Stage == "" {
		e.Stage = s.stage
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.next.Emit(e)
}

// Event emits a named event with fields.
func (s *Scoped) Event(name string, fields map[string]interface{}) {
	s.Emit(Event{Name: name, Fields: fields})
}

package events

import (
	"sync"
	"time"
)

// Emitter hands engine events to the external broadcast collaborator.
// Emission is best-effort from the engine's point of view: a failed
// emit never blocks or rolls back a round transition.
type Emitter interface {
	EmitNewRound(p NewRoundPayload) error
	EmitRaceStart(p RaceStartPayload) error
	EmitRaceEnd(p RaceEndPayload) error
	EmitError(p ErrorPayload) error
	Close()
}

func newEvent(t Type, payload any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC().Unix(),
		Payload:   payload,
	}
}

// NopEmitter drops everything. Used when no transport is configured.
type NopEmitter struct{}

func (NopEmitter) EmitNewRound(NewRoundPayload) error   { return nil }
func (NopEmitter) EmitRaceStart(RaceStartPayload) error { return nil }
func (NopEmitter) EmitRaceEnd(RaceEndPayload) error     { return nil }
func (NopEmitter) EmitError(ErrorPayload) error         { return nil }
func (NopEmitter) Close()                               {}

// MemoryEmitter records events for tests.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (m *MemoryEmitter) record(t Type, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, newEvent(t, payload))
	return nil
}

func (m *MemoryEmitter) EmitNewRound(p NewRoundPayload) error   { return m.record(TypeNewRound, p) }
func (m *MemoryEmitter) EmitRaceStart(p RaceStartPayload) error { return m.record(TypeRaceStart, p) }
func (m *MemoryEmitter) EmitRaceEnd(p RaceEndPayload) error     { return m.record(TypeRaceEnd, p) }
func (m *MemoryEmitter) EmitError(p ErrorPayload) error         { return m.record(TypeError, p) }
func (m *MemoryEmitter) Close()                                 {}

// Events returns a copy of everything recorded so far.
func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType filters recorded events.
func (m *MemoryEmitter) ByType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

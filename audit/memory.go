package audit

import "sync"

// MemoryRecorder keeps events in process memory.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends e.
func (m *MemoryRecorder) Record(e Event) {
	m.mu.Lock()
	m.events = append(m.events, e.clone())
	m.mu.Unlock()
}

// Events returns a copy of every event in recording order.
func (m *MemoryRecorder) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	for i, e := range m.events {
		out[i] = e.clone()
	}
	return out
}

// ForFile returns the events recorded for fileID.
func (m *MemoryRecorder) ForFile(fileID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.FileID == fileID {
			out = append(out, e.clone())
		}
	}
	return out
}

// ByAction returns the events recorded with action.
func (m *MemoryRecorder) ByAction(action Action) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.Action == action {
			out = append(out, e.clone())
		}
	}
	return out
}

// Len returns the number of recorded events.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

package uploadkit

// EventKind identifies what changed.
type EventKind string

const (
	EventItemAdded     EventKind = "item_added"
	EventStatusChanged EventKind = "status_changed"
	EventProgress      EventKind = "progress"
	EventItemRemoved   EventKind = "item_removed"
	EventBatchComplete EventKind = "batch_complete"
	EventCleared       EventKind = "cleared"
)

// subscriberBuffer is the per-subscriber channel capacity. Events beyond it
// are dropped for that subscriber; Snapshot resynchronises.
const subscriberBuffer = 64

// Event is a change notification. Item and Progress are copies taken when
// the event was published.
type Event struct {
	Kind     EventKind
	Item     Item
	Progress Progress
	// Summary is set for EventBatchComplete.
	Summary *BatchSummary
}

// Subscribe returns a channel of queue events and a function that ends the
// subscription and closes the channel. Sends never block the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// publish must be called with m.mu held.
func (m *Manager) publish(kind EventKind, rec *record) {
	if len(m.subs) == 0 {
		return
	}
	ev := Event{Kind: kind, Progress: Aggregate(m.snapshotLocked())}
	if rec != nil {
		ev.Item = rec.item.clone()
	}
	m.broadcast(ev)
}

func (m *Manager) broadcast(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

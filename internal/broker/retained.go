package broker

import (
	"sync"

	"github.com/tallerdist/sentinela/internal/wire"
)

// RetainedMessage is the last publish seen on a topic, used to seed late
// subscribers (spec §3 "Retained-latest table", §4.2 SUBSCRIBE handling).
type RetainedMessage struct {
	Topic   string
	Payload []byte
	QoS     wire.QoS
}

// RetainedTable is the broker-global topic → last-message table. Unlike
// standard MQTT retain semantics, this system updates it unconditionally
// on every PUBLISH regardless of the RETAIN bit (spec §4.2 point 2).
type RetainedTable struct {
	mu      sync.RWMutex
	byTopic map[string]*RetainedMessage
}

// NewRetainedTable creates an empty retained-latest table.
func NewRetainedTable() *RetainedTable {
	return &RetainedTable{byTopic: make(map[string]*RetainedMessage)}
}

// Store records msg as the latest for its topic.
func (t *RetainedTable) Store(msg *RetainedMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byTopic[msg.Topic] = msg
}

// Get returns the retained message for topic, if any.
func (t *RetainedTable) Get(topic string) (*RetainedMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byTopic[topic]
	return m, ok
}

// All returns a snapshot of every retained message, used to restore state
// from persistence on broker restart.
func (t *RetainedTable) All() []*RetainedMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*RetainedMessage, 0, len(t.byTopic))
	for _, m := range t.byTopic {
		out = append(out, m)
	}
	return out
}

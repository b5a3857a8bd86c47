package broker

import "sync"

// SubscriptionIndex maps topic → (client id → granted QoS). Topics in this
// system are exact names (Cam/Dron/Inc/desc), never MQTT wildcards, so a
// flat map replaces the teacher's trie-based matcher entirely (spec §4.1
// Non-goals exclude wildcard filters).
type SubscriptionIndex struct {
	mu      sync.RWMutex
	byTopic map[string]map[string]wireQoS
}

// wireQoS avoids importing internal/wire here just for the QoS type alias;
// broker.go defines the conversion at its call sites.
type wireQoS = byte

// NewSubscriptionIndex creates an empty topic subscription index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{byTopic: make(map[string]map[string]wireQoS)}
}

// Subscribe records clientID's subscription to topic at the given QoS,
// replacing any prior entry for the same (clientID, topic) pair.
func (idx *SubscriptionIndex) Subscribe(clientID, topic string, qos wireQoS) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	subs, ok := idx.byTopic[topic]
	if !ok {
		subs = make(map[string]wireQoS)
		idx.byTopic[topic] = subs
	}
	subs[clientID] = qos
}

// Unsubscribe removes clientID's subscription to topic, if any.
func (idx *SubscriptionIndex) Unsubscribe(clientID, topic string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if subs, ok := idx.byTopic[topic]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(idx.byTopic, topic)
		}
	}
}

// UnsubscribeAll removes every subscription belonging to clientID, called
// on disconnect.
func (idx *SubscriptionIndex) UnsubscribeAll(clientID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for topic, subs := range idx.byTopic {
		if _, ok := subs[clientID]; ok {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(idx.byTopic, topic)
			}
		}
	}
}

// Matches returns a snapshot of (clientID, qos) pairs subscribed to topic.
func (idx *SubscriptionIndex) Matches(topic string) map[string]wireQoS {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	subs, ok := idx.byTopic[topic]
	if !ok {
		return nil
	}
	out := make(map[string]wireQoS, len(subs))
	for id, qos := range subs {
		out[id] = qos
	}
	return out
}

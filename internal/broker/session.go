package broker

import (
	"maps"
	"net"
	"sync"
	"time"

	"github.com/tallerdist/sentinela/internal/wire"
)

// Will is the last-will the broker captured at CONNECT time, fired when
// the connection dies without a graceful DISCONNECT (spec §3, §4.2).
type Will struct {
	Topic   string
	Payload []byte
	QoS     wire.QoS
	Retain  bool
}

// InFlightPublish is a QoS-1 publish the broker is waiting on a PUBACK
// for, keyed by (topic, packet id) in the owning Session (spec §3).
type InFlightPublish struct {
	Topic      string
	PacketID   uint16
	Payload    []byte
	QoS        wire.QoS
	Retain     bool
	Deadline   time.Time
	Backoff    time.Duration
	RetryCount int
}

// Session is the broker-side per-client record (spec §3): subscriptions,
// pending queue for while offline, and the in-flight QoS-1 table.
type Session struct {
	mu sync.Mutex

	ClientID     string
	CleanSession bool
	Will         *Will
	KeepAlive    uint16
	Connected    bool
	Conn         net.Conn
	Outbound     chan []byte

	Subscriptions map[string]wire.QoS
	Pending       []*wire.PublishPacket
	InFlight      map[inFlightKey]*InFlightPublish
	packetIDSeq   uint16
}

type inFlightKey struct {
	Topic    string
	PacketID uint16
}

// NewSession creates a fresh session for clientID with no subscriptions
// or in-flight state.
func NewSession(clientID string, cleanSession bool, keepAlive uint16) *Session {
	return &Session{
		ClientID:      clientID,
		CleanSession:  cleanSession,
		KeepAlive:     keepAlive,
		Subscriptions: make(map[string]wire.QoS),
		InFlight:      make(map[inFlightKey]*InFlightPublish),
		Outbound:      make(chan []byte, 64),
	}
}

// NextPacketID mints the next monotonic, never-zero packet id for
// messages this session originates to its subscriber (spec §4.2
// "Tie-breaking and ordering").
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetIDSeq++
	if s.packetIDSeq == 0 {
		s.packetIDSeq++
	}
	return s.packetIDSeq
}

// AddInFlight registers a QoS-1 publish awaiting PUBACK.
func (s *Session) AddInFlight(msg *InFlightPublish) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InFlight[inFlightKey{msg.Topic, msg.PacketID}] = msg
}

// AckInFlight removes the (topic, packetID) in-flight entry, reporting
// whether one existed.
func (s *Session) AckInFlight(topic string, packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inFlightKey{topic, packetID}
	if _, ok := s.InFlight[key]; ok {
		delete(s.InFlight, key)
		return true
	}
	return false
}

// DueInFlight returns in-flight entries whose retransmit deadline has
// elapsed, for the retransmit scheduler to act on.
func (s *Session) DueInFlight(now time.Time) []*InFlightPublish {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*InFlightPublish
	for _, msg := range s.InFlight {
		if !now.Before(msg.Deadline) {
			due = append(due, msg)
		}
	}
	return due
}

// DropInFlight removes an in-flight entry after retries are exhausted.
func (s *Session) DropInFlight(topic string, packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.InFlight, inFlightKey{topic, packetID})
}

// Enqueue appends a publish to this session's pending queue, used while
// the subscriber is offline and the session is persistent.
func (s *Session) Enqueue(pp *wire.PublishPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pending = append(s.Pending, pp)
}

// DrainPending returns and clears the pending queue, called once the
// subscriber reconnects.
func (s *Session) DrainPending() []*wire.PublishPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.Pending
	s.Pending = nil
	return pending
}

// RequeueInFlight moves every unacknowledged QoS-1 publish back into the
// pending queue and clears the in-flight table, called on disconnect of a
// persistent session so nothing awaiting a PUBACK is abandoned (spec
// §4.2 "Retransmission": "on disconnect the entry moves back into the
// pending queue if the session is persistent"). Redelivery on reconnect
// mints a fresh packet id and in-flight entry, so retry bookkeeping does
// not need to survive the move.
func (s *Session) RequeueInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.InFlight {
		s.Pending = append(s.Pending, &wire.PublishPacket{
			Topic:   msg.Topic,
			Payload: msg.Payload,
			QoS:     msg.QoS,
			Retain:  msg.Retain,
		})
	}
	s.InFlight = make(map[inFlightKey]*InFlightPublish)
}

// sessionMap is an immutable snapshot swapped copy-on-write by Registry,
// the same pattern the teacher's Broker.Store/Get/Delete used.
type sessionMap map[string]*Session

// Registry is the broker's client-id → Session table (spec §3's "the
// broker owns all sessions").
type Registry struct {
	mu   sync.RWMutex
	data sessionMap
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{data: make(sessionMap)}
}

// Store installs or replaces the session for clientID.
func (r *Registry) Store(clientID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := make(sessionMap, len(r.data)+1)
	maps.Copy(updated, r.data)
	updated[clientID] = s
	r.data = updated
}

// Get returns the session for clientID, if any.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[clientID]
	return s, ok
}

// Delete removes clientID's session entirely (used on clean-session
// reconnect and on clean disconnect of a clean-session client).
func (r *Registry) Delete(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := make(sessionMap, len(r.data))
	maps.Copy(updated, r.data)
	delete(updated, clientID)
	r.data = updated
}

// All returns a snapshot of every session currently registered.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.data))
	for _, s := range r.data {
		out = append(out, s)
	}
	return out
}

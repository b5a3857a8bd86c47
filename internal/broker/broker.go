// Package broker implements the custom MQTT-flavored pub/sub broker:
// connection handshake, topic subscription, QoS-0/1 publish, session
// persistence, last-will delivery and retransmission of unacknowledged
// messages (spec §4.2).
package broker

import (
	"log/slog"

	"github.com/tallerdist/sentinela/internal/auth"
	"github.com/tallerdist/sentinela/internal/wire"
)

// Broker owns the session registry, the topic subscription index and the
// retained-latest table as exported fields, so callers in the package and
// its tests reach them directly as well as through its methods (spec §9
// "Global mutable state... encapsulate behind a broker object").
type Broker struct {
	Sessions      *Registry
	Subscriptions *SubscriptionIndex
	Retained      *RetainedTable
	Auth          *auth.Store
	Persistence   *Persistence
	Retransmit    RetransmitConfig
	log           *slog.Logger
}

// New builds a broker with fresh in-memory tables; callers that want
// persisted state should call RestoreFromPersistence afterward.
func New(authStore *auth.Store, persistence *Persistence, retransmit RetransmitConfig, log *slog.Logger) *Broker {
	return &Broker{
		Sessions:      NewRegistry(),
		Subscriptions: NewSubscriptionIndex(),
		Retained:      NewRetainedTable(),
		Auth:          authStore,
		Persistence:   persistence,
		Retransmit:    retransmit,
		log:           log,
	}
}

// RestoreFromPersistence seeds the retained table from disk; per-client
// session state is instead restored lazily in HandleConnection, keyed by the
// reconnecting client id (spec §4.2 point 1: "restore session").
func (b *Broker) RestoreFromPersistence() error {
	retained, err := b.Persistence.LoadRetained()
	if err != nil {
		return err
	}
	for _, m := range retained {
		b.Retained.Store(m)
	}
	return nil
}

// HandleSubscribe processes a SUBSCRIBE, updates the subscription index,
// and returns the SUBACK to send back plus any retained messages to
// deliver immediately (spec §4.2 "SUBSCRIBE").
func (b *Broker) HandleSubscribe(sess *Session, sp *wire.SubscribePacket) (*wire.SubackPacket, []*RetainedMessage) {
	results := make([]wire.QoS, len(sp.Filters))
	var toDeliver []*RetainedMessage

	for i, f := range sp.Filters {
		granted := f.QoS
		if granted > wire.QoS1 {
			granted = wire.QoS1
		}
		sess.mu.Lock()
		sess.Subscriptions[f.Topic] = granted
		sess.mu.Unlock()
		b.Subscriptions.Subscribe(sess.ClientID, f.Topic, byte(granted))
		results[i] = granted

		if m, ok := b.Retained.Get(f.Topic); ok {
			toDeliver = append(toDeliver, m)
		}
	}

	if b.Persistence != nil && !sess.CleanSession {
		if err := b.Persistence.SaveSession(sess); err != nil {
			b.log.Error("failed to persist subscriptions", slog.String("client_id", sess.ClientID), slog.Any("error", err))
		}
	}

	return &wire.SubackPacket{PacketID: sp.PacketID, Results: results}, toDeliver
}

// HandlePublish routes a PUBLISH to every matching subscriber and updates
// the retained table unconditionally; it returns nothing, and any PUBACK
// to the publisher is left to its caller (spec §4.2 "PUBLISH from client C").
func (b *Broker) HandlePublish(pp *wire.PublishPacket) {
	b.Retained.Store(&RetainedMessage{Topic: pp.Topic, Payload: pp.Payload, QoS: pp.QoS})
	if b.Persistence != nil {
		if err := b.Persistence.SaveRetained(&RetainedMessage{Topic: pp.Topic, Payload: pp.Payload, QoS: pp.QoS}); err != nil {
			b.log.Error("failed to persist retained message", slog.String("topic", pp.Topic), slog.Any("error", err))
		}
	}

	for clientID, subQoS := range b.Subscriptions.Matches(pp.Topic) {
		sub, ok := b.Sessions.Get(clientID)
		if !ok {
			continue
		}
		b.deliver(sub, pp.Topic, pp.Payload, minQoS(pp.QoS, wire.QoS(subQoS)), pp.Retain)
	}
}

// deliver sends a publish to sub, queuing it if sub is offline and
// persistent, or recording it in the in-flight table if QoS1 (spec §4.2
// point 3).
func (b *Broker) deliver(sub *Session, topic string, payload []byte, qos wire.QoS, retain bool) {
	if !sub.Connected {
		if !sub.CleanSession {
			sub.Enqueue(&wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
			b.persistSession(sub)
		}
		return
	}

	pp := &wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos, Retain: retain}
	if qos == wire.QoS1 {
		pp.PacketID = sub.NextPacketID()
		sub.AddInFlight(NewInFlight(b.Retransmit, topic, pp.PacketID, payload, qos, retain))
	}
	if !sub.CleanSession {
		// Resaves the now-current (possibly drained) pending queue
		// alongside any new in-flight entry, so a redelivered message
		// doesn't linger twice in the persisted state.
		b.persistSession(sub)
	}

	select {
	case sub.Outbound <- pp.Encode():
	default:
		b.log.Warn("outbound buffer full, dropping publish", slog.String("client_id", sub.ClientID), slog.String("topic", topic))
	}
}

// HandlePuback removes the acknowledged in-flight entry, stopping its
// retransmit timer (spec §4.2 "PUBACK from subscriber S").
func (b *Broker) HandlePuback(sess *Session, pa *wire.PubackPacket) {
	for topic := range sess.Subscriptions {
		if sess.AckInFlight(topic, pa.PacketID) {
			if !sess.CleanSession {
				b.persistSession(sess)
			}
			return
		}
	}
}

// persistSession resaves sess's pending queue and in-flight table so a
// clean-session=false client's undelivered state survives a broker
// restart (spec §4.2 "Retransmission", SPEC_FULL §4.2).
func (b *Broker) persistSession(sess *Session) {
	if b.Persistence == nil {
		return
	}
	if err := b.Persistence.SaveSession(sess); err != nil {
		b.log.Error("failed to persist session state", slog.String("client_id", sess.ClientID), slog.Any("error", err))
	}
}

// HandleDisconnect marks sess offline, discarding its will (graceful
// DISCONNECT, spec §4.2 point 3). In-flight entries move back into the
// pending queue if the session is persistent, per spec §5.
func (b *Broker) HandleDisconnect(sess *Session) {
	b.offline(sess, true)
}

// HandleConnectionLoss marks sess offline after a socket error, firing its
// will if one was registered (spec §4.2 point 3, §4.5 "last-will
// delivery").
func (b *Broker) HandleConnectionLoss(sess *Session) {
	b.offline(sess, false)
	if sess.Will != nil {
		b.HandlePublish(&wire.PublishPacket{
			Topic:   sess.Will.Topic,
			Payload: sess.Will.Payload,
			QoS:     sess.Will.QoS,
			Retain:  sess.Will.Retain,
		})
	}
}

func (b *Broker) offline(sess *Session, graceful bool) {
	sess.mu.Lock()
	sess.Connected = false
	conn := sess.Conn
	sess.Conn = nil
	if graceful {
		sess.Will = nil
	}
	sess.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	if sess.CleanSession {
		b.Subscriptions.UnsubscribeAll(sess.ClientID)
		b.Sessions.Delete(sess.ClientID)
		if b.Persistence != nil {
			if err := b.Persistence.DeleteSession(sess.ClientID); err != nil {
				b.log.Error("failed to delete persisted session", slog.String("client_id", sess.ClientID), slog.Any("error", err))
			}
		}
		return
	}

	// Persistent session: stay subscribed so HandlePublish keeps routing
	// to it (deliver's offline branch queues into sess.Pending), and move
	// any unacknowledged QoS-1 publishes back into that same queue.
	sess.RequeueInFlight()
	b.persistSession(sess)
}

func minQoS(a, b wire.QoS) wire.QoS {
	if a < b {
		return a
	}
	return b
}

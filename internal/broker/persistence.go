package broker

import (
	"database/sql"

	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/wire"
)

const persistenceSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	client_id     TEXT PRIMARY KEY,
	clean_session INTEGER NOT NULL,
	keep_alive    INTEGER NOT NULL,
	will_topic    TEXT,
	will_payload  BLOB,
	will_qos      INTEGER,
	will_retain   INTEGER
);
CREATE TABLE IF NOT EXISTS subscriptions (
	client_id TEXT NOT NULL,
	topic     TEXT NOT NULL,
	qos       INTEGER NOT NULL,
	PRIMARY KEY (client_id, topic)
);
CREATE TABLE IF NOT EXISTS retained_messages (
	topic   TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	qos     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_messages (
	client_id TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	topic     TEXT NOT NULL,
	payload   BLOB NOT NULL,
	qos       INTEGER NOT NULL,
	retain    INTEGER NOT NULL,
	PRIMARY KEY (client_id, seq)
);
CREATE TABLE IF NOT EXISTS in_flight_messages (
	client_id   TEXT NOT NULL,
	topic       TEXT NOT NULL,
	packet_id   INTEGER NOT NULL,
	payload     BLOB NOT NULL,
	qos         INTEGER NOT NULL,
	retain      INTEGER NOT NULL,
	retry_count INTEGER NOT NULL,
	PRIMARY KEY (client_id, topic, packet_id)
);`

// Persistence backs session and retained-latest state with SQLite so a
// clean-session=false client reconnecting after a broker restart keeps
// its subscriptions, pending queue, in-flight table, and the retained
// table survives restart (spec §6 "broker may persist session state to
// disk", SPEC_FULL §4.2).
type Persistence struct {
	db *sql.DB
}

// OpenPersistence creates the schema if missing and returns a handle.
func OpenPersistence(db *sql.DB) (*Persistence, error) {
	if _, err := db.Exec(persistenceSchema); err != nil {
		return nil, &er.Err{Context: "Persistence, Migrate", Message: err}
	}
	return &Persistence{db: db}, nil
}

// SaveSession upserts a persistent session's static fields (not its
// runtime connection, which never survives a restart).
func (p *Persistence) SaveSession(s *Session) error {
	var willTopic, willPayload, willQoS, willRetain any
	if s.Will != nil {
		willTopic = s.Will.Topic
		willPayload = s.Will.Payload
		willQoS = byte(s.Will.QoS)
		willRetain = s.Will.Retain
	}
	_, err := p.db.Exec(`
		INSERT INTO sessions (client_id, clean_session, keep_alive, will_topic, will_payload, will_qos, will_retain)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			clean_session = excluded.clean_session,
			keep_alive = excluded.keep_alive,
			will_topic = excluded.will_topic,
			will_payload = excluded.will_payload,
			will_qos = excluded.will_qos,
			will_retain = excluded.will_retain`,
		s.ClientID, s.CleanSession, s.KeepAlive, willTopic, willPayload, willQoS, willRetain)
	if err != nil {
		return &er.Err{Context: "Persistence, SaveSession", Message: err}
	}
	if err := p.saveSubscriptions(s); err != nil {
		return err
	}
	if err := p.savePending(s); err != nil {
		return err
	}
	return p.saveInFlight(s)
}

func (p *Persistence) savePending(s *Session) error {
	s.mu.Lock()
	pending := append([]*wire.PublishPacket(nil), s.Pending...)
	s.mu.Unlock()

	if _, err := p.db.Exec("DELETE FROM pending_messages WHERE client_id = ?", s.ClientID); err != nil {
		return &er.Err{Context: "Persistence, SavePending", Message: err}
	}
	for seq, pp := range pending {
		if _, err := p.db.Exec(
			"INSERT INTO pending_messages (client_id, seq, topic, payload, qos, retain) VALUES (?, ?, ?, ?, ?, ?)",
			s.ClientID, seq, pp.Topic, pp.Payload, byte(pp.QoS), pp.Retain); err != nil {
			return &er.Err{Context: "Persistence, SavePending", Message: err}
		}
	}
	return nil
}

func (p *Persistence) saveInFlight(s *Session) error {
	s.mu.Lock()
	inFlight := make([]*InFlightPublish, 0, len(s.InFlight))
	for _, msg := range s.InFlight {
		inFlight = append(inFlight, msg)
	}
	s.mu.Unlock()

	if _, err := p.db.Exec("DELETE FROM in_flight_messages WHERE client_id = ?", s.ClientID); err != nil {
		return &er.Err{Context: "Persistence, SaveInFlight", Message: err}
	}
	for _, msg := range inFlight {
		if _, err := p.db.Exec(
			`INSERT INTO in_flight_messages (client_id, topic, packet_id, payload, qos, retain, retry_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ClientID, msg.Topic, msg.PacketID, msg.Payload, byte(msg.QoS), msg.Retain, msg.RetryCount); err != nil {
			return &er.Err{Context: "Persistence, SaveInFlight", Message: err}
		}
	}
	return nil
}

func (p *Persistence) saveSubscriptions(s *Session) error {
	if _, err := p.db.Exec("DELETE FROM subscriptions WHERE client_id = ?", s.ClientID); err != nil {
		return &er.Err{Context: "Persistence, SaveSubscriptions", Message: err}
	}
	for topic, qos := range s.Subscriptions {
		if _, err := p.db.Exec("INSERT INTO subscriptions (client_id, topic, qos) VALUES (?, ?, ?)",
			s.ClientID, topic, byte(qos)); err != nil {
			return &er.Err{Context: "Persistence, SaveSubscriptions", Message: err}
		}
	}
	return nil
}

// DeleteSession removes a session's persisted state, called when a client
// reconnects with clean-session=true.
func (p *Persistence) DeleteSession(clientID string) error {
	if _, err := p.db.Exec("DELETE FROM sessions WHERE client_id = ?", clientID); err != nil {
		return &er.Err{Context: "Persistence, DeleteSession", Message: err}
	}
	if _, err := p.db.Exec("DELETE FROM subscriptions WHERE client_id = ?", clientID); err != nil {
		return &er.Err{Context: "Persistence, DeleteSession", Message: err}
	}
	if _, err := p.db.Exec("DELETE FROM pending_messages WHERE client_id = ?", clientID); err != nil {
		return &er.Err{Context: "Persistence, DeleteSession", Message: err}
	}
	if _, err := p.db.Exec("DELETE FROM in_flight_messages WHERE client_id = ?", clientID); err != nil {
		return &er.Err{Context: "Persistence, DeleteSession", Message: err}
	}
	return nil
}

// LoadSession restores a persistent session's static fields and
// subscriptions, or reports ok=false if none exist.
func (p *Persistence) LoadSession(clientID string) (s *Session, ok bool, err error) {
	row := p.db.QueryRow(`
		SELECT clean_session, keep_alive, will_topic, will_payload, will_qos, will_retain
		FROM sessions WHERE client_id = ?`, clientID)

	var cleanSession bool
	var keepAlive uint16
	var willTopic sql.NullString
	var willPayload []byte
	var willQoS sql.NullInt64
	var willRetain sql.NullBool

	switch scanErr := row.Scan(&cleanSession, &keepAlive, &willTopic, &willPayload, &willQoS, &willRetain); scanErr {
	case sql.ErrNoRows:
		return nil, false, nil
	case nil:
	default:
		return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: scanErr}
	}

	s = NewSession(clientID, cleanSession, keepAlive)
	if willTopic.Valid {
		s.Will = &Will{
			Topic:   willTopic.String,
			Payload: willPayload,
			QoS:     wire.QoS(willQoS.Int64),
			Retain:  willRetain.Bool,
		}
	}

	rows, err := p.db.Query("SELECT topic, qos FROM subscriptions WHERE client_id = ?", clientID)
	if err != nil {
		return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
	}
	defer rows.Close()
	for rows.Next() {
		var topic string
		var qos byte
		if err := rows.Scan(&topic, &qos); err != nil {
			return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
		}
		s.Subscriptions[topic] = wire.QoS(qos)
	}

	pendingRows, err := p.db.Query("SELECT topic, payload, qos, retain FROM pending_messages WHERE client_id = ? ORDER BY seq", clientID)
	if err != nil {
		return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
	}
	defer pendingRows.Close()
	for pendingRows.Next() {
		pp := &wire.PublishPacket{}
		var qos byte
		if err := pendingRows.Scan(&pp.Topic, &pp.Payload, &qos, &pp.Retain); err != nil {
			return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
		}
		pp.QoS = wire.QoS(qos)
		s.Pending = append(s.Pending, pp)
	}

	// In-flight publishes never survive a restart with a live connection
	// to retry against, so they rejoin the pending queue exactly as
	// RequeueInFlight does on an ordinary disconnect.
	inFlightRows, err := p.db.Query("SELECT topic, payload, qos, retain FROM in_flight_messages WHERE client_id = ?", clientID)
	if err != nil {
		return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
	}
	defer inFlightRows.Close()
	for inFlightRows.Next() {
		pp := &wire.PublishPacket{}
		var qos byte
		if err := inFlightRows.Scan(&pp.Topic, &pp.Payload, &qos, &pp.Retain); err != nil {
			return nil, false, &er.Err{Context: "Persistence, LoadSession", Message: err}
		}
		pp.QoS = wire.QoS(qos)
		s.Pending = append(s.Pending, pp)
	}

	return s, true, nil
}

// SaveRetained upserts the retained-latest entry for a topic.
func (p *Persistence) SaveRetained(m *RetainedMessage) error {
	_, err := p.db.Exec(`
		INSERT INTO retained_messages (topic, payload, qos) VALUES (?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET payload = excluded.payload, qos = excluded.qos`,
		m.Topic, m.Payload, byte(m.QoS))
	if err != nil {
		return &er.Err{Context: "Persistence, SaveRetained", Message: err}
	}
	return nil
}

// LoadRetained restores every retained message, called once at broker
// startup.
func (p *Persistence) LoadRetained() ([]*RetainedMessage, error) {
	rows, err := p.db.Query("SELECT topic, payload, qos FROM retained_messages")
	if err != nil {
		return nil, &er.Err{Context: "Persistence, LoadRetained", Message: err}
	}
	defer rows.Close()

	var out []*RetainedMessage
	for rows.Next() {
		m := &RetainedMessage{}
		var qos byte
		if err := rows.Scan(&m.Topic, &m.Payload, &qos); err != nil {
			return nil, &er.Err{Context: "Persistence, LoadRetained", Message: err}
		}
		m.QoS = wire.QoS(qos)
		out = append(out, m)
	}
	return out, nil
}

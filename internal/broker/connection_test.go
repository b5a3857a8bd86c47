package broker

import (
	"context"
	"database/sql"
	"net"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tallerdist/sentinela/internal/auth"
	"github.com/tallerdist/sentinela/internal/wire"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	authStore, err := auth.New(db)
	if err != nil {
		t.Fatalf("auth.New() error = %v", err)
	}
	persistence, err := OpenPersistence(db)
	if err != nil {
		t.Fatalf("OpenPersistence() error = %v", err)
	}
	return New(authStore, persistence, DefaultRetransmitConfig(), discardLogger())
}

func startTestBroker(t *testing.T, b *Broker) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	pool, err := NewWorkerPool(4)
	if err != nil {
		t.Fatalf("NewWorkerPool() error = %v", err)
	}
	t.Cleanup(pool.Release)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go b.HandleConnection(ctx, conn, pool)
		}
	}()

	return listener.Addr().String()
}

func TestHandleConnectionAcceptsValidConnect(t *testing.T) {
	b := newTestBroker(t)
	addr := startTestBroker(t, b)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	cp := &wire.ConnectPacket{ProtocolLevel: 4, CleanSession: true, ClientID: "test-client"}
	if _, err := conn.Write(cp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	ack, err := wire.DecodeConnack(buf[:n])
	if err != nil {
		t.Fatalf("DecodeConnack() error = %v", err)
	}
	if ack.ReturnCode != wire.ConnackAccepted {
		t.Fatalf("expected ConnackAccepted, got %v", ack.ReturnCode)
	}
}

func TestHandleConnectionRejectsBadCredentials(t *testing.T) {
	b := newTestBroker(t)
	if err := b.Auth.Seed("operator", "correct-horse", 4); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	addr := startTestBroker(t, b)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	cp := &wire.ConnectPacket{
		ProtocolLevel: 4, CleanSession: true, ClientID: "test-client",
		UsernameFlag: true, Username: "operator",
		PasswordFlag: true, Password: "wrong-password",
	}
	if _, err := conn.Write(cp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	ack, err := wire.DecodeConnack(buf[:n])
	if err != nil {
		t.Fatalf("DecodeConnack() error = %v", err)
	}
	if ack.ReturnCode != wire.ConnackBadUsernameOrPasswd {
		t.Fatalf("expected ConnackBadUsernameOrPasswd, got %v", ack.ReturnCode)
	}
}

func TestHandlePublishDeliversToSubscriber(t *testing.T) {
	b := newTestBroker(t)
	addr := startTestBroker(t, b)

	subConn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer subConn.Close()
	handshake(t, subConn, "subscriber")

	sp := &wire.SubscribePacket{PacketID: 1, Filters: []wire.TopicFilter{{Topic: "Inc", QoS: wire.QoS1}}}
	if _, err := subConn.Write(sp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	readPacket(t, subConn) // SUBACK

	pubConn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer pubConn.Close()
	handshake(t, pubConn, "publisher")

	pp := &wire.PublishPacket{Topic: "Inc", Payload: []byte("hello"), QoS: wire.QoS1, PacketID: 1}
	if _, err := pubConn.Write(pp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	readPacket(t, pubConn) // PUBACK to publisher

	data := readPacket(t, subConn)
	delivered, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	publish, ok := delivered.(*wire.PublishPacket)
	if !ok {
		t.Fatalf("expected a PUBLISH, got %T", delivered)
	}
	if string(publish.Payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", publish.Payload)
	}
}

// TestPersistentSessionQueuesPublishWhileOfflineThenDelivers covers the
// offline-subscriber path (spec §3, §4.2 point 3): a clean-session=false
// subscriber that drops its connection without a DISCONNECT stays
// subscribed, accumulates a publish in its pending queue while offline,
// and receives it as soon as it reconnects with the same client id.
func TestPersistentSessionQueuesPublishWhileOfflineThenDelivers(t *testing.T) {
	b := newTestBroker(t)
	addr := startTestBroker(t, b)

	subConn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	handshakeWithCleanSession(t, subConn, "persistent-subscriber", false)

	sp := &wire.SubscribePacket{PacketID: 1, Filters: []wire.TopicFilter{{Topic: "Inc", QoS: wire.QoS1}}}
	if _, err := subConn.Write(sp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	readPacket(t, subConn) // SUBACK

	subConn.Close() // ungraceful: no DISCONNECT packet sent
	time.Sleep(100 * time.Millisecond)

	pubConn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer pubConn.Close()
	handshake(t, pubConn, "publisher")

	pp := &wire.PublishPacket{Topic: "Inc", Payload: []byte("queued"), QoS: wire.QoS1, PacketID: 1}
	if _, err := pubConn.Write(pp.Encode()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	readPacket(t, pubConn) // PUBACK to publisher

	reconnect, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer reconnect.Close()
	handshakeWithCleanSession(t, reconnect, "persistent-subscriber", false)

	data := readPacket(t, reconnect)
	delivered, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	publish, ok := delivered.(*wire.PublishPacket)
	if !ok {
		t.Fatalf("expected a PUBLISH, got %T", delivered)
	}
	if string(publish.Payload) != "queued" {
		t.Fatalf("expected queued payload %q, got %q", "queued", publish.Payload)
	}
}

func handshake(t *testing.T, conn net.Conn, clientID string) {
	t.Helper()
	handshakeWithCleanSession(t, conn, clientID, true)
}

func handshakeWithCleanSession(t *testing.T, conn net.Conn, clientID string, cleanSession bool) {
	t.Helper()
	cp := &wire.ConnectPacket{ProtocolLevel: 4, CleanSession: cleanSession, ClientID: clientID}
	if _, err := conn.Write(cp.Encode()); err != nil {
		t.Fatalf("Write(CONNECT) error = %v", err)
	}
	readPacket(t, conn) // CONNACK
}

func readPacket(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return buf[:n]
}

// Package brokerclient is the symmetric counterpart to internal/broker: a
// small library any of the camera/drone/monitor executables embed to
// connect, publish, subscribe, and retransmit unacknowledged QoS-1
// publishes (spec §4.3). Grounded on original_source's
// mqtt_client.rs/mqtt_client_writer.rs method shapes, expressed with Go
// channels and context.Context instead of mpsc channels and threads.
package brokerclient

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tallerdist/sentinela/internal/broker"
	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/wire"
)

// Will describes the last-will message to register at connect time.
type Will struct {
	Topic   string
	Payload []byte
	QoS     wire.QoS
	Retain  bool
}

// Inbound is a decoded PUBLISH delivered to the caller's InboundStream
// (spec §4.3 "connect... spawns a listener task that decodes inbound
// packets and dispatches: PUBLISH → push onto InboundStream").
type Inbound struct {
	Topic   string
	Payload []byte
	QoS     wire.QoS
	Retain  bool
}

// Client is one connection to the broker: a writer half serialized by
// mu, plus the listener and retransmitter goroutines started by Connect.
type Client struct {
	mu           sync.Mutex
	conn         net.Conn
	writer       *bufio.Writer
	clientID     string
	packetIDSeq  uint16
	log          *slog.Logger
	retransmit   *retransmitter
	pendingSubs  map[uint16]chan *wire.SubackPacket
	pendingSubMu sync.Mutex
}

// Config tunes the client-side QoS-1 retransmit loop (spec §5 "Retransmit
// deadline is configurable; default 10s initial, capped at 60s, max 5
// retries").
type Config struct {
	InitialDelay time.Duration
	MaxBackoff   time.Duration
	MaxRetries   int
	TickInterval time.Duration
}

// DefaultConfig matches spec.md's stated client retransmit defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 10 * time.Second,
		MaxBackoff:   60 * time.Second,
		MaxRetries:   5,
		TickInterval: 1 * time.Second,
	}
}

// Connect dials addr, performs the CONNECT/CONNACK handshake with the
// given will, and starts the listener and retransmitter goroutines.
// InboundStream delivers every PUBLISH the broker routes to this client's
// subscriptions (spec §4.3).
func Connect(ctx context.Context, clientID, addr string, will *Will, cleanSession bool, keepAlive uint16, cfg Config, log *slog.Logger) (*Client, <-chan Inbound, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, &er.Err{Context: "BrokerClient, Connect", Message: err}
	}

	cp := &wire.ConnectPacket{
		ProtocolLevel: 4,
		CleanSession:  cleanSession,
		KeepAlive:     keepAlive,
		ClientID:      clientID,
	}
	if will != nil {
		cp.WillFlag = true
		cp.WillQoS = will.QoS
		cp.WillRetain = will.Retain
		cp.WillTopic = will.Topic
		cp.WillMessage = string(will.Payload)
	}

	if _, err := conn.Write(cp.Encode()); err != nil {
		conn.Close()
		return nil, nil, &er.Err{Context: "BrokerClient, Connect", Message: err}
	}

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(broker.HandshakeTimeout))
	raw, err := wire.ReadPacket(reader)
	if err != nil {
		conn.Close()
		return nil, nil, &er.Err{Context: "BrokerClient, Connect", Message: err}
	}
	conn.SetReadDeadline(time.Time{})

	ack, err := wire.DecodeConnack(raw)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if ack.ReturnCode != wire.ConnackAccepted {
		conn.Close()
		return nil, nil, &er.Err{Context: "BrokerClient, Connect", Message: fmt.Errorf("%w: return code %d", er.ErrConnectRejected, ack.ReturnCode)}
	}

	c := &Client{
		conn:        conn,
		writer:      bufio.NewWriter(conn),
		clientID:    clientID,
		log:         log,
		pendingSubs: make(map[uint16]chan *wire.SubackPacket),
	}
	c.retransmit = newRetransmitter(cfg, c, log)

	inboundCh := make(chan Inbound, 64)
	go c.retransmit.run(ctx)
	go c.listen(ctx, reader, inboundCh)

	return c, inboundCh, nil
}

func (c *Client) nextPacketID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetIDSeq++
	if c.packetIDSeq == 0 {
		c.packetIDSeq++
	}
	return c.packetIDSeq
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return &er.Err{Context: "BrokerClient, write", Message: err}
	}
	return c.writer.Flush()
}

// Publish mints a packet id, sends the PUBLISH, and for QoS1 registers it
// with the retransmitter (spec §4.3 "publish(topic, payload, qos)").
func (c *Client) Publish(topic string, payload []byte, qos wire.QoS) (*wire.PublishPacket, error) {
	pp := &wire.PublishPacket{Topic: topic, Payload: payload, QoS: qos}
	if qos == wire.QoS1 {
		pp.PacketID = c.nextPacketID()
	}

	if err := c.write(pp.Encode()); err != nil {
		return nil, err
	}
	if qos == wire.QoS1 {
		c.retransmit.register(pp)
	}
	return pp, nil
}

// Subscribe sends a SUBSCRIBE and blocks until the matching SUBACK
// arrives, failing if any granted code is SubackFailure (spec §4.3
// "subscribe... Fails if any return code is 0x80").
func (c *Client) Subscribe(ctx context.Context, filters []wire.TopicFilter) (*wire.SubackPacket, error) {
	sp := &wire.SubscribePacket{PacketID: c.nextPacketID(), Filters: filters}

	ch := make(chan *wire.SubackPacket, 1)
	c.pendingSubMu.Lock()
	c.pendingSubs[sp.PacketID] = ch
	c.pendingSubMu.Unlock()
	defer func() {
		c.pendingSubMu.Lock()
		delete(c.pendingSubs, sp.PacketID)
		c.pendingSubMu.Unlock()
	}()

	if err := c.write(sp.Encode()); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ack := <-ch:
		for _, code := range ack.Results {
			if code == wire.SubackFailure {
				return ack, &er.Err{Context: "BrokerClient, Subscribe", Message: er.ErrSubscribeRejected}
			}
		}
		return ack, nil
	}
}

// Disconnect sends DISCONNECT, stops the retransmitter, and closes the
// socket (spec §4.3 "disconnect()").
func (c *Client) Disconnect() error {
	c.retransmit.stop()
	err := c.write((&wire.DisconnectPacket{}).Encode())
	c.conn.Close()
	if err != nil {
		return err
	}
	return nil
}

func (c *Client) ackPacketID(packetID uint16) {
	c.retransmit.ack(packetID)
}

package broker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/tallerdist/sentinela/internal/er"
	"github.com/tallerdist/sentinela/internal/wire"
)

// HandshakeTimeout bounds how long a newly accepted socket has to send its
// CONNECT (spec §5 "CONNECT handshake has a fixed timeout (e.g. 30s)").
const HandshakeTimeout = 30 * time.Second

// HandleConnection drives one accepted socket end to end: handshake,
// read loop dispatch, writer loop, and disconnect/will handling. It
// blocks until the connection ends, mirroring the teacher's
// handleConnection but generalized to internal/wire's packet set and the
// broker's session/persistence model.
func (b *Broker) HandleConnection(ctx context.Context, conn net.Conn, pool *WorkerPool) {
	remote := conn.RemoteAddr().String()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))

	raw, err := wire.ReadPacket(reader)
	if err != nil {
		b.log.Warn("handshake read failed", slog.String("remote", remote), slog.Any("error", err))
		return
	}
	cp, err := wire.DecodeConnect(raw)
	if err != nil {
		b.log.Warn("invalid CONNECT", slog.String("remote", remote), slog.Any("error", err))
		conn.Write((&wire.ConnackPacket{ReturnCode: connackCodeFor(err)}).Encode())
		return
	}
	conn.SetReadDeadline(time.Time{})

	if cp.ClientID == "" {
		cp.ClientID = uuid.NewString()
	}

	if cp.UsernameFlag && cp.PasswordFlag && b.Auth != nil {
		if err := b.Auth.Authenticate(cp.Username, cp.Password); err != nil {
			b.log.Warn("auth failed", slog.String("client_id", cp.ClientID), slog.Any("error", err))
			conn.Write((&wire.ConnackPacket{ReturnCode: wire.ConnackBadUsernameOrPasswd}).Encode())
			return
		}
	}

	if existing, ok := b.Sessions.Get(cp.ClientID); ok && existing.Connected {
		b.log.Info("closing prior connection for duplicate client id", slog.String("client_id", cp.ClientID))
		b.offline(existing, false)
	}

	sessionPresent := false
	var sess *Session
	if cp.CleanSession {
		b.Sessions.Delete(cp.ClientID)
		if b.Persistence != nil {
			b.Persistence.DeleteSession(cp.ClientID)
		}
		sess = NewSession(cp.ClientID, true, cp.KeepAlive)
	} else {
		if restored, ok := b.Sessions.Get(cp.ClientID); ok {
			sess = restored
			sessionPresent = true
		} else if b.Persistence != nil {
			if loaded, ok, _ := b.Persistence.LoadSession(cp.ClientID); ok {
				sess = loaded
				sessionPresent = true
			}
		}
		if sess == nil {
			sess = NewSession(cp.ClientID, false, cp.KeepAlive)
		}
	}

	sess.mu.Lock()
	sess.Conn = conn
	sess.Connected = true
	sess.KeepAlive = cp.KeepAlive
	if cp.WillFlag {
		sess.Will = &Will{Topic: cp.WillTopic, Payload: []byte(cp.WillMessage), QoS: cp.WillQoS, Retain: cp.WillRetain}
	}
	sess.mu.Unlock()

	b.Sessions.Store(cp.ClientID, sess)
	for topic, qos := range sess.Subscriptions {
		b.Subscriptions.Subscribe(cp.ClientID, topic, byte(qos))
	}

	conn.Write((&wire.ConnackPacket{SessionPresent: sessionPresent, ReturnCode: wire.ConnackAccepted}).Encode())
	b.log.Info("client connected", slog.String("client_id", cp.ClientID), slog.String("remote", remote), slog.Bool("session_present", sessionPresent))

	go b.writerLoop(ctx, sess)

	for _, pending := range sess.DrainPending() {
		b.deliver(sess, pending.Topic, pending.Payload, pending.QoS, pending.Retain)
	}

	b.readerLoop(reader, sess)
}

// writerLoop owns conn's write half exclusively, draining sess.Outbound
// (spec §5 "the writer owns the socket's write half exclusively").
func (b *Broker) writerLoop(ctx context.Context, sess *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sess.Outbound:
			if !ok {
				return
			}
			sess.mu.Lock()
			conn := sess.Conn
			sess.mu.Unlock()
			if conn == nil {
				return
			}
			if _, err := conn.Write(data); err != nil {
				b.log.Warn("write failed", slog.String("client_id", sess.ClientID), slog.Any("error", err))
				return
			}
		}
	}
}

// readerLoop decodes one packet at a time and dispatches it, until the
// socket errors or a graceful DISCONNECT arrives (spec §4.2 "Read loop").
func (b *Broker) readerLoop(reader *bufio.Reader, sess *Session) {
	for {
		raw, err := wire.ReadPacket(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.log.Info("client disconnected", slog.String("client_id", sess.ClientID))
			} else {
				b.log.Warn("read error", slog.String("client_id", sess.ClientID), slog.Any("error", err))
			}
			b.HandleConnectionLoss(sess)
			return
		}

		packet, err := wire.Decode(raw)
		if err != nil {
			b.log.Warn("malformed packet", slog.String("client_id", sess.ClientID), slog.Any("error", err))
			b.HandleConnectionLoss(sess)
			return
		}

		switch p := packet.(type) {
		case *wire.PublishPacket:
			if p.QoS == wire.QoS1 {
				select {
				case sess.Outbound <- (&wire.PubackPacket{PacketID: p.PacketID}).Encode():
				default:
				}
			}
			b.HandlePublish(p)
		case *wire.SubscribePacket:
			suback, retained := b.HandleSubscribe(sess, p)
			select {
			case sess.Outbound <- suback.Encode():
			default:
			}
			for _, m := range retained {
				b.deliver(sess, m.Topic, m.Payload, m.QoS, true)
			}
		case *wire.PubackPacket:
			b.HandlePuback(sess, p)
		case *wire.DisconnectPacket:
			b.HandleDisconnect(sess)
			return
		default:
			b.log.Warn("unhandled packet type", slog.String("client_id", sess.ClientID))
		}
	}
}

func connackCodeFor(err error) wire.ConnackReturnCode {
	switch {
	case errors.Is(err, er.ErrUnsupportedProtocolLevel), errors.Is(err, er.ErrUnsupportedProtocolName):
		return wire.ConnackUnacceptableProto
	case errors.Is(err, er.ErrIdentifierRejected):
		return wire.ConnackIdentifierRejected
	case errors.Is(err, er.ErrPasswordWithoutUsername), errors.Is(err, er.ErrMalformedUsernameField), errors.Is(err, er.ErrMalformedPasswordField):
		return wire.ConnackBadUsernameOrPasswd
	default:
		return wire.ConnackServerUnavailable
	}
}

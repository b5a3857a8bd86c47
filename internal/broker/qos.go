package broker

import (
	"log/slog"
	"time"

	"github.com/tallerdist/sentinela/internal/wire"
)

// RetransmitConfig tunes the server-side QoS-1 retry scheduler (spec §4.2
// "Retransmission", §5 "Cancellation and timeouts": default 10s initial
// deadline, doubling backoff capped at 60s, 5 retries before drop).
type RetransmitConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	MaxBackoff   time.Duration
	MaxRetries   int
}

// DefaultRetransmitConfig matches spec.md's stated defaults.
func DefaultRetransmitConfig() RetransmitConfig {
	return RetransmitConfig{
		Interval:     1 * time.Second,
		InitialDelay: 10 * time.Second,
		MaxBackoff:   60 * time.Second,
		MaxRetries:   5,
	}
}

// Retransmitter periodically scans every session's in-flight QoS-1
// publishes and resends the ones past deadline, following the teacher's
// qos.go ticker-driven retry loop adapted to per-session in-flight tables.
type Retransmitter struct {
	cfg      RetransmitConfig
	registry *Registry
	log      *slog.Logger
	stop     chan struct{}
}

// NewRetransmitter builds a retransmitter over registry; call Run in its
// own goroutine.
func NewRetransmitter(cfg RetransmitConfig, registry *Registry, log *slog.Logger) *Retransmitter {
	return &Retransmitter{cfg: cfg, registry: registry, log: log, stop: make(chan struct{})}
}

// Run blocks, ticking every cfg.Interval until Stop is called.
func (rt *Retransmitter) Run() {
	ticker := time.NewTicker(rt.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-rt.stop:
			return
		case <-ticker.C:
			rt.tick()
		}
	}
}

// Stop halts the retransmit loop.
func (rt *Retransmitter) Stop() {
	close(rt.stop)
}

func (rt *Retransmitter) tick() {
	now := time.Now()
	for _, sess := range rt.registry.All() {
		if !sess.Connected {
			continue
		}
		for _, msg := range sess.DueInFlight(now) {
			if msg.RetryCount >= rt.cfg.MaxRetries {
				sess.DropInFlight(msg.Topic, msg.PacketID)
				rt.log.Warn("qos1 retry exhausted, dropping",
					slog.String("client_id", sess.ClientID),
					slog.String("topic", msg.Topic),
					slog.Int("packet_id", int(msg.PacketID)))
				continue
			}
			rt.resend(sess, msg)
		}
	}
}

func (rt *Retransmitter) resend(sess *Session, msg *InFlightPublish) {
	pp := &wire.PublishPacket{
		Dup:      true,
		QoS:      msg.QoS,
		Retain:   msg.Retain,
		Topic:    msg.Topic,
		PacketID: msg.PacketID,
		Payload:  msg.Payload,
	}

	msg.RetryCount++
	msg.Backoff *= 2
	if msg.Backoff > rt.cfg.MaxBackoff {
		msg.Backoff = rt.cfg.MaxBackoff
	}
	msg.Deadline = time.Now().Add(msg.Backoff)

	select {
	case sess.Outbound <- pp.Encode():
	default:
		rt.log.Warn("outbound buffer full, dropping retransmit",
			slog.String("client_id", sess.ClientID), slog.String("topic", msg.Topic))
	}
}

// NewInFlight builds an InFlightPublish ready for AddInFlight, with its
// deadline set from cfg's initial delay.
func NewInFlight(cfg RetransmitConfig, topic string, packetID uint16, payload []byte, qos wire.QoS, retain bool) *InFlightPublish {
	return &InFlightPublish{
		Topic:    topic,
		PacketID: packetID,
		Payload:  payload,
		QoS:      qos,
		Retain:   retain,
		Deadline: time.Now().Add(cfg.InitialDelay),
		Backoff:  cfg.InitialDelay,
	}
}

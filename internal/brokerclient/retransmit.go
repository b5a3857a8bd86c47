package brokerclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tallerdist/sentinela/internal/wire"
)

// inFlight is a QoS-1 publish awaiting PUBACK, mirroring the broker's own
// InFlightPublish bookkeeping (spec §4.3 "Client retransmitter").
type inFlight struct {
	packet     *wire.PublishPacket
	deadline   time.Time
	backoff    time.Duration
	retryCount int
}

// retransmitter tracks every outstanding QoS-1 publish keyed by packet id
// and resends past-deadline ones with DUP=1, up to cfg.MaxRetries (spec
// §5 "The retransmitter suspends only on its deadline timer or its ack
// channel").
type retransmitter struct {
	cfg    Config
	client *Client
	log    *slog.Logger

	mu      sync.Mutex
	pending map[uint16]*inFlight

	ackCh chan uint16
	stopC chan struct{}
}

func newRetransmitter(cfg Config, client *Client, log *slog.Logger) *retransmitter {
	return &retransmitter{
		cfg:     cfg,
		client:  client,
		log:     log,
		pending: make(map[uint16]*inFlight),
		ackCh:   make(chan uint16, 64),
		stopC:   make(chan struct{}),
	}
}

// register records pp as in flight, called right after a QoS-1 publish
// is written.
func (rt *retransmitter) register(pp *wire.PublishPacket) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pending[pp.PacketID] = &inFlight{
		packet:   pp,
		deadline: time.Now().Add(rt.cfg.InitialDelay),
		backoff:  rt.cfg.InitialDelay,
	}
}

// ack is called by the listener when a PUBACK arrives for packetID.
func (rt *retransmitter) ack(packetID uint16) {
	select {
	case rt.ackCh <- packetID:
	case <-rt.stopC:
	}
}

func (rt *retransmitter) stop() {
	close(rt.stopC)
}

// run drives the retransmit loop: deadline ticks and ack notifications,
// both single-producer channels per spec §4.3.
func (rt *retransmitter) run(ctx context.Context) {
	ticker := time.NewTicker(rt.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.stopC:
			return
		case packetID := <-rt.ackCh:
			rt.mu.Lock()
			delete(rt.pending, packetID)
			rt.mu.Unlock()
		case now := <-ticker.C:
			rt.tick(now)
		}
	}
}

func (rt *retransmitter) tick(now time.Time) {
	rt.mu.Lock()
	var due []*inFlight
	for _, f := range rt.pending {
		if !now.Before(f.deadline) {
			due = append(due, f)
		}
	}
	rt.mu.Unlock()

	for _, f := range due {
		rt.mu.Lock()
		if f.retryCount >= rt.cfg.MaxRetries {
			delete(rt.pending, f.packet.PacketID)
			rt.mu.Unlock()
			rt.log.Warn("publish retries exhausted, dropping",
				slog.String("topic", f.packet.Topic), slog.Int("packet_id", int(f.packet.PacketID)))
			continue
		}
		f.retryCount++
		f.backoff *= 2
		if f.backoff > rt.cfg.MaxBackoff {
			f.backoff = rt.cfg.MaxBackoff
		}
		f.deadline = now.Add(f.backoff)
		rt.mu.Unlock()

		dup := *f.packet
		dup.Dup = true
		if err := rt.client.write(dup.Encode()); err != nil {
			rt.log.Warn("resend failed", slog.String("topic", f.packet.Topic), slog.Any("error", err))
		}
	}
}

package brokerclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/tallerdist/sentinela/internal/wire"
)

// listen decodes inbound packets one at a time and dispatches them,
// closing inboundCh when the connection ends (spec §4.3 "spawns a
// listener task that decodes inbound packets and dispatches").
func (c *Client) listen(ctx context.Context, reader *bufio.Reader, inboundCh chan Inbound) {
	defer close(inboundCh)

	for {
		raw, err := wire.ReadPacket(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Warn("broker client read error", slog.String("client_id", c.clientID), slog.Any("error", err))
			}
			return
		}

		packet, err := wire.Decode(raw)
		if err != nil {
			c.log.Warn("broker client malformed packet", slog.String("client_id", c.clientID), slog.Any("error", err))
			continue
		}

		switch p := packet.(type) {
		case *wire.PublishPacket:
			if p.QoS == wire.QoS1 {
				ack := (&wire.PubackPacket{PacketID: p.PacketID}).Encode()
				if err := c.write(ack); err != nil {
					c.log.Warn("puback write failed", slog.Any("error", err))
				}
			}
			select {
			case inboundCh <- Inbound{Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Retain: p.Retain}:
			case <-ctx.Done():
				return
			}
		case *wire.PubackPacket:
			c.ackPacketID(p.PacketID)
		case *wire.SubackPacket:
			c.pendingSubMu.Lock()
			ch, ok := c.pendingSubs[p.PacketID]
			c.pendingSubMu.Unlock()
			if ok {
				select {
				case ch <- p:
				default:
				}
			}
		default:
			c.log.Warn("broker client unhandled packet", slog.String("client_id", c.clientID))
		}
	}
}

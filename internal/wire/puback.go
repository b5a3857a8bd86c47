package wire

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
)

// PubackPacket acknowledges a QoS1 PUBLISH by packet id.
type PubackPacket struct {
	PacketID uint16
}

// DecodePuback parses a raw PUBACK packet (fixed header included).
func DecodePuback(raw []byte) (*PubackPacket, error) {
	const ctx = "Puback"
	if TypeOf(raw) != PUBACK {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidPacketType}
	}

	_, lenSize, err := decodeRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenSize

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: ctx, Message: er.ErrShortBuffer}
	}
	id := binary.BigEndian.Uint16(raw[offset : offset+2])
	if id == 0 {
		return nil, &er.Err{Context: ctx + ", PacketID", Message: er.ErrInvalidPacketID}
	}
	return &PubackPacket{PacketID: id}, nil
}

// Encode serializes the PUBACK packet to bytes.
func (pp *PubackPacket) Encode() []byte {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, pp.PacketID)

	out := []byte{byte(PUBACK)}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

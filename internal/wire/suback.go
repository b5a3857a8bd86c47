package wire

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
)

// SubackFailure marks a filter the broker rejected.
const SubackFailure QoS = 0x80

// SubackPacket acknowledges a SUBSCRIBE, one granted-QoS byte per filter
// in request order.
type SubackPacket struct {
	PacketID uint16
	Results  []QoS
}

// DecodeSuback parses a raw SUBACK packet (fixed header included).
func DecodeSuback(raw []byte) (*SubackPacket, error) {
	const ctx = "Suback"
	if TypeOf(raw) != SUBACK {
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
	sp := &SubackPacket{PacketID: binary.BigEndian.Uint16(raw[offset : offset+2])}
	offset += 2

	for offset < len(raw) {
		sp.Results = append(sp.Results, QoS(raw[offset]))
		offset++
	}
	return sp, nil
}

// Encode serializes the SUBACK packet to bytes.
func (sp *SubackPacket) Encode() []byte {
	id := make([]byte, 2)
	binary.BigEndian.PutUint16(id, sp.PacketID)
	body := id
	for _, r := range sp.Results {
		body = append(body, byte(r))
	}

	out := []byte{byte(SUBACK)}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

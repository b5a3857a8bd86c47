package wire

import "github.com/tallerdist/sentinela/internal/er"

// DisconnectPacket is the client's graceful-close notice; its receipt
// tells the broker to discard the connection's last will (spec §4.1).
type DisconnectPacket struct{}

// DecodeDisconnect parses a raw DISCONNECT packet (fixed header included).
func DecodeDisconnect(raw []byte) (*DisconnectPacket, error) {
	const ctx = "Disconnect"
	if TypeOf(raw) != DISCONNECT {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidDisconnectPacket}
	}
	remaining, _, err := decodeRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	if remaining != 0 {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidDisconnectPacket}
	}
	return &DisconnectPacket{}, nil
}

// Encode serializes the DISCONNECT packet to bytes.
func (dp *DisconnectPacket) Encode() []byte {
	return []byte{byte(DISCONNECT), 0x00}
}

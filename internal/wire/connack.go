package wire

import "github.com/tallerdist/sentinela/internal/er"

// ConnackReturnCode mirrors the subset of MQTT 3.1.1 CONNACK return codes
// the broker actually issues (spec §4.1): no extended-auth codes.
type ConnackReturnCode byte

const (
	ConnackAccepted            ConnackReturnCode = 0x00
	ConnackUnacceptableProto   ConnackReturnCode = 0x01
	ConnackIdentifierRejected  ConnackReturnCode = 0x02
	ConnackServerUnavailable   ConnackReturnCode = 0x03
	ConnackBadUsernameOrPasswd ConnackReturnCode = 0x04
	ConnackNotAuthorized       ConnackReturnCode = 0x05
)

// ConnackPacket is the broker's reply to a CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnackReturnCode
}

// DecodeConnack parses a raw CONNACK packet (fixed header included).
func DecodeConnack(raw []byte) (*ConnackPacket, error) {
	const ctx = "Connack"
	if TypeOf(raw) != CONNACK {
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

	return &ConnackPacket{
		SessionPresent: raw[offset]&0x01 != 0,
		ReturnCode:     ConnackReturnCode(raw[offset+1]),
	}, nil
}

// Encode serializes the CONNACK packet to bytes.
func (cp *ConnackPacket) Encode() []byte {
	var flags byte
	if cp.SessionPresent {
		flags = 0x01
	}
	body := []byte{flags, byte(cp.ReturnCode)}

	out := []byte{byte(CONNACK)}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

package wire

import "github.com/tallerdist/sentinela/internal/er"

// Decode dispatches a raw packet to the matching Decode* function by its
// fixed-header type, returning the concrete packet as an any so callers
// can type-switch.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, &er.Err{Context: "Decode", Message: er.ErrEmptyBuffer}
	}
	switch TypeOf(raw) {
	case CONNECT:
		return DecodeConnect(raw)
	case CONNACK:
		return DecodeConnack(raw)
	case PUBLISH:
		return DecodePublish(raw)
	case PUBACK:
		return DecodePuback(raw)
	case SUBSCRIBE:
		return DecodeSubscribe(raw)
	case SUBACK:
		return DecodeSuback(raw)
	case DISCONNECT:
		return DecodeDisconnect(raw)
	default:
		return nil, &er.Err{Context: "Decode", Message: er.ErrInvalidPacketType}
	}
}

package wire

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
)

// ConnectPacket is the CONNECT variable header + payload (spec §4.1).
type ConnectPacket struct {
	ProtocolLevel byte
	CleanSession  bool
	KeepAlive     uint16

	ClientID string

	WillFlag    bool
	WillQoS     QoS
	WillRetain  bool
	WillTopic   string
	WillMessage string

	UsernameFlag bool
	PasswordFlag bool
	Username     string
	Password     string
}

// DecodeConnect parses a raw CONNECT packet (fixed header included).
func DecodeConnect(raw []byte) (*ConnectPacket, error) {
	const ctx = "Connect"
	if TypeOf(raw) != CONNECT {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidConnPacket}
	}

	_, lenSize, err := decodeRemainingLength(raw[1:])
	if err != nil {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidConnPacket}
	}
	offset := 1 + lenSize

	protoName, n, err := readString(raw[offset:], ctx+", ProtocolName")
	if err != nil {
		return nil, err
	}
	offset += n
	if protoName != "MQTT" {
		return nil, &er.Err{Context: ctx + ", ProtocolName", Message: er.ErrUnsupportedProtocolName}
	}

	if offset >= len(raw) {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidConnPacket}
	}
	cp := &ConnectPacket{ProtocolLevel: raw[offset]}
	offset++
	if cp.ProtocolLevel != 4 {
		return nil, &er.Err{Context: ctx + ", ProtocolLevel", Message: er.ErrUnsupportedProtocolLevel}
	}

	if offset >= len(raw) {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidConnPacket}
	}
	flags := raw[offset]
	offset++

	if flags&0x01 != 0 {
		return nil, &er.Err{Context: ctx + ", ConnectFlags", Message: er.ErrReservedBitSet}
	}
	cp.UsernameFlag = flags&0x80 != 0
	cp.PasswordFlag = flags&0x40 != 0
	cp.WillRetain = flags&0x20 != 0
	cp.WillQoS = QoS((flags & 0x18) >> 3)
	cp.WillFlag = flags&0x04 != 0
	cp.CleanSession = flags&0x02 != 0

	if cp.WillFlag && cp.WillQoS > QoS1 {
		return nil, &er.Err{Context: ctx + ", WillQoS", Message: er.ErrInvalidWillQos}
	}
	if !cp.UsernameFlag && cp.PasswordFlag {
		return nil, &er.Err{Context: ctx + ", Flags", Message: er.ErrPasswordWithoutUsername}
	}

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidConnPacket}
	}
	cp.KeepAlive = binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	clientID, n, err := readString(raw[offset:], ctx+", ClientID")
	if err != nil {
		return nil, err
	}
	offset += n
	cp.ClientID = clientID
	if cp.ClientID == "" && !cp.CleanSession {
		return nil, &er.Err{Context: ctx + ", ClientID", Message: er.ErrEmptyAndCleanSessClientID}
	}

	if cp.WillFlag {
		topic, n, err := readString(raw[offset:], ctx+", WillTopic")
		if err != nil {
			return nil, err
		}
		offset += n
		cp.WillTopic = topic

		msg, n, err := readString(raw[offset:], ctx+", WillMessage")
		if err != nil {
			return nil, err
		}
		offset += n
		cp.WillMessage = msg
	}

	if cp.UsernameFlag {
		user, n, err := readString(raw[offset:], ctx+", Username")
		if err != nil {
			return nil, &er.Err{Context: ctx + ", Username", Message: er.ErrMalformedUsernameField}
		}
		offset += n
		cp.Username = user
	}

	if cp.PasswordFlag {
		pass, n, err := readString(raw[offset:], ctx+", Password")
		if err != nil {
			return nil, &er.Err{Context: ctx + ", Password", Message: er.ErrMalformedPasswordField}
		}
		offset += n
		cp.Password = pass
	}

	return cp, nil
}

// Encode serializes the CONNECT packet to bytes.
func (cp *ConnectPacket) Encode() []byte {
	var vh []byte
	vh = putString(vh, "MQTT")
	vh = append(vh, 4)

	var flags byte
	if cp.UsernameFlag {
		flags |= 0x80
	}
	if cp.PasswordFlag {
		flags |= 0x40
	}
	if cp.WillFlag {
		if cp.WillRetain {
			flags |= 0x20
		}
		flags |= byte(cp.WillQoS) << 3
		flags |= 0x04
	}
	if cp.CleanSession {
		flags |= 0x02
	}
	vh = append(vh, flags)

	ka := make([]byte, 2)
	binary.BigEndian.PutUint16(ka, cp.KeepAlive)
	vh = append(vh, ka...)

	payload := putString(nil, cp.ClientID)
	if cp.WillFlag {
		payload = putString(payload, cp.WillTopic)
		payload = putString(payload, cp.WillMessage)
	}
	if cp.UsernameFlag {
		payload = putString(payload, cp.Username)
	}
	if cp.PasswordFlag {
		payload = putString(payload, cp.Password)
	}

	body := append(vh, payload...)
	out := []byte{byte(CONNECT)}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

package wire

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
)

// PublishPacket carries an application payload on a topic (spec §4.1).
// PacketID is only meaningful when QoS is QoS1.
type PublishPacket struct {
	Dup      bool
	QoS      QoS
	Retain   bool
	Topic    string
	PacketID uint16
	Payload  []byte
}

// DecodePublish parses a raw PUBLISH packet (fixed header included).
func DecodePublish(raw []byte) (*PublishPacket, error) {
	const ctx = "Publish"
	if TypeOf(raw) != PUBLISH {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidPublishPacket}
	}
	flags := raw[0] & 0x0F
	qos := QoS((flags & 0x06) >> 1)
	if qos > QoS1 {
		return nil, &er.Err{Context: ctx + ", Flags", Message: er.ErrInvalidQoSLevel}
	}
	dup := flags&0x08 != 0
	if qos == QoS0 && dup {
		return nil, &er.Err{Context: ctx + ", Flags", Message: er.ErrInvalidDUPFlag}
	}
	retain := flags&0x01 != 0

	_, lenSize, err := decodeRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenSize

	topic, n, err := readString(raw[offset:], ctx+", Topic")
	if err != nil {
		return nil, err
	}
	offset += n
	if topic == "" {
		return nil, &er.Err{Context: ctx + ", Topic", Message: er.ErrEmptyTopic}
	}

	pp := &PublishPacket{Dup: dup, QoS: qos, Retain: retain, Topic: topic}

	if qos == QoS1 {
		if offset+2 > len(raw) {
			return nil, &er.Err{Context: ctx + ", PacketID", Message: er.ErrMissingPacketID}
		}
		pp.PacketID = binary.BigEndian.Uint16(raw[offset : offset+2])
		if pp.PacketID == 0 {
			return nil, &er.Err{Context: ctx + ", PacketID", Message: er.ErrInvalidPacketID}
		}
		offset += 2
	}

	pp.Payload = append([]byte(nil), raw[offset:]...)
	return pp, nil
}

// Encode serializes the PUBLISH packet to bytes.
func (pp *PublishPacket) Encode() []byte {
	var flags byte
	if pp.Dup {
		flags |= 0x08
	}
	flags |= byte(pp.QoS) << 1
	if pp.Retain {
		flags |= 0x01
	}

	body := putString(nil, pp.Topic)
	if pp.QoS == QoS1 {
		id := make([]byte, 2)
		binary.BigEndian.PutUint16(id, pp.PacketID)
		body = append(body, id...)
	}
	body = append(body, pp.Payload...)

	out := []byte{byte(PUBLISH) | flags}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

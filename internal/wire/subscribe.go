package wire

import (
	"encoding/binary"

	"github.com/tallerdist/sentinela/internal/er"
)

// TopicFilter pairs a topic name with the QoS the subscriber requests it at.
type TopicFilter struct {
	Topic string
	QoS   QoS
}

// SubscribePacket requests one or more topic subscriptions. The broker
// always reports back one granted-QoS return code per filter; wildcard filters
// are not supported (spec Non-goals).
type SubscribePacket struct {
	PacketID uint16
	Filters  []TopicFilter
}

// DecodeSubscribe parses a raw SUBSCRIBE packet (fixed header included).
func DecodeSubscribe(raw []byte) (*SubscribePacket, error) {
	const ctx = "Subscribe"
	if TypeOf(raw) != SUBSCRIBE {
		return nil, &er.Err{Context: ctx, Message: er.ErrInvalidSubscribePacket}
	}

	_, lenSize, err := decodeRemainingLength(raw[1:])
	if err != nil {
		return nil, err
	}
	offset := 1 + lenSize

	if offset+2 > len(raw) {
		return nil, &er.Err{Context: ctx, Message: er.ErrShortBuffer}
	}
	sp := &SubscribePacket{PacketID: binary.BigEndian.Uint16(raw[offset : offset+2])}
	offset += 2

	for offset < len(raw) {
		topic, n, err := readString(raw[offset:], ctx+", Topic")
		if err != nil {
			return nil, err
		}
		offset += n
		if topic == "" {
			return nil, &er.Err{Context: ctx + ", Topic", Message: er.ErrEmptyTopicFilter}
		}
		if offset >= len(raw) {
			return nil, &er.Err{Context: ctx + ", QoS", Message: er.ErrMissingQoSByte}
		}
		qos := QoS(raw[offset])
		offset++
		if qos > QoS1 {
			return nil, &er.Err{Context: ctx + ", QoS", Message: er.ErrInvalidQoSLevel}
		}
		sp.Filters = append(sp.Filters, TopicFilter{Topic: topic, QoS: qos})
	}

	if len(sp.Filters) == 0 {
		return nil, &er.Err{Context: ctx, Message: er.ErrNoTopicFilters}
	}
	return sp, nil
}

// Encode serializes the SUBSCRIBE packet to bytes.
func (sp *SubscribePacket) Encode() []byte {
	id := make([]byte, 2)
	binary.BigEndian.PutUint16(id, sp.PacketID)
	body := id
	for _, f := range sp.Filters {
		body = putString(body, f.Topic)
		body = append(body, byte(f.QoS))
	}

	out := []byte{byte(SUBSCRIBE) | 0x02}
	out = append(out, encodeRemainingLength(len(body))...)
	return append(out, body...)
}

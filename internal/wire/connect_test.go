package wire

import (
	"errors"
	"testing"

	"github.com/tallerdist/sentinela/internal/er"
)

func TestConnectEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cp   *ConnectPacket
	}{
		{
			"minimal clean session",
			&ConnectPacket{ProtocolLevel: 4, CleanSession: true, ClientID: ""},
		},
		{
			"full with will and credentials",
			&ConnectPacket{
				ProtocolLevel: 4,
				CleanSession:  false,
				KeepAlive:     60,
				ClientID:      "drone-7",
				WillFlag:      true,
				WillQoS:       QoS1,
				WillRetain:    true,
				WillTopic:     "dron/status",
				WillMessage:   "offline",
				UsernameFlag:  true,
				PasswordFlag:  true,
				Username:      "operator",
				Password:      "secret",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.cp.Encode()
			got, err := DecodeConnect(raw)
			if err != nil {
				t.Fatalf("DecodeConnect() error = %v", err)
			}
			if *got != *tt.cp {
				t.Errorf("DecodeConnect() = %+v, want %+v", got, tt.cp)
			}
		})
	}
}

func TestDecodeConnectRejectsBadProtocolName(t *testing.T) {
	cp := &ConnectPacket{ProtocolLevel: 4, CleanSession: true}
	raw := cp.Encode()
	// Corrupt the protocol name's first byte (offset 4, after the 2-byte fixed header and 2-byte length).
	raw[4] = 'X'
	_, err := DecodeConnect(raw)
	if !errors.Is(err, er.ErrUnsupportedProtocolName) {
		t.Errorf("DecodeConnect() error = %v, want ErrUnsupportedProtocolName", err)
	}
}

func TestDecodeConnectRejectsEmptyClientIDWithoutCleanSession(t *testing.T) {
	cp := &ConnectPacket{ProtocolLevel: 4, CleanSession: false, ClientID: ""}
	raw := cp.Encode()
	_, err := DecodeConnect(raw)
	if !errors.Is(err, er.ErrEmptyAndCleanSessClientID) {
		t.Errorf("DecodeConnect() error = %v, want ErrEmptyAndCleanSessClientID", err)
	}
}

func TestDecodeConnectRejectsPasswordWithoutUsername(t *testing.T) {
	cp := &ConnectPacket{
		ProtocolLevel: 4,
		CleanSession:  true,
		PasswordFlag:  true,
		Password:      "secret",
	}
	raw := cp.Encode()
	_, err := DecodeConnect(raw)
	if !errors.Is(err, er.ErrPasswordWithoutUsername) {
		t.Errorf("DecodeConnect() error = %v, want ErrPasswordWithoutUsername", err)
	}
}

func TestDecodeConnectRejectsWrongType(t *testing.T) {
	_, err := DecodeConnect([]byte{byte(PUBLISH), 0x00})
	if !errors.Is(err, er.ErrInvalidConnPacket) {
		t.Errorf("DecodeConnect() error = %v, want ErrInvalidConnPacket", err)
	}
}

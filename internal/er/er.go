// Package er defines the error taxonomy shared by every component of
// sentinela: wire codec, broker, broker client, and the camera/drone/
// monitor coordination logic.
package er

import (
	"errors"
	"fmt"
)

// Err wraps a sentinel Message with the Context it occurred in, so logs
// read "context: Publish, Topic, message: topic name is empty" while errors.Is
// still matches against the sentinel.
type Err struct {
	Context string
	Message error
}

func (e *Err) Error() string {
	return fmt.Sprintf("context: %s, message: %v", e.Context, e.Message)
}

func (e *Err) Unwrap() error {
	return e.Message
}

var (
	// Framing / remaining-length
	ErrEmptyBuffer             = errors.New("buffer is empty")
	ErrShortBuffer             = errors.New("buffer is too short for string length")
	ErrRemainingLengthExceeded = errors.New("remaining length field exceeds 4 bytes")
	ErrInvalidPacketLength     = errors.New("packet length does not match remaining length")
	ErrInvalidPacketType       = errors.New("packet type is invalid")
	ErrShortString             = errors.New("string is too short")
	ErrInvalidUTF8String       = errors.New("string is not valid UTF-8")

	// CONNECT
	ErrInvalidConnPacket         = errors.New("connect packet is invalid")
	ErrUnsupportedProtocolLevel  = errors.New("protocol level is not supported")
	ErrUnsupportedProtocolName   = errors.New("protocol name is not supported")
	ErrInvalidWillQos            = errors.New("will qos level is invalid")
	ErrReservedBitSet            = errors.New("reserved connect flag bit is set")
	ErrEmptyClientID             = errors.New("empty client id requires clean session to be 1")
	ErrEmptyAndCleanSessClientID = errors.New("client id is empty and clean session is set to 0")
	ErrPasswordWithoutUsername   = errors.New("password flag set without username flag")
	ErrMalformedUsernameField    = errors.New("malformed username field")
	ErrMalformedPasswordField    = errors.New("malformed password field")
	ErrIdentifierRejected        = errors.New("identifier rejected")

	// PUBLISH
	ErrInvalidPublishPacket = errors.New("publish packet is invalid")
	ErrInvalidQoSLevel      = errors.New("qos level is invalid")
	ErrInvalidDUPFlag       = errors.New("dup flag set on a qos-0 publish")
	ErrEmptyTopic           = errors.New("topic name is empty")
	ErrMissingPacketID      = errors.New("packet id is required for this qos level")
	ErrInvalidPacketID      = errors.New("packet id must be non-zero")
	ErrPayloadTooLarge      = errors.New("payload exceeds maximum remaining length")

	// SUBSCRIBE / SUBACK
	ErrInvalidSubscribePacket = errors.New("subscribe packet is invalid")
	ErrNoTopicFilters         = errors.New("subscribe packet has no topic filters")
	ErrMissingQoSByte         = errors.New("missing qos byte in subscribe filter")
	ErrEmptyTopicFilter       = errors.New("topic filter is empty")

	// DISCONNECT
	ErrInvalidDisconnectPacket = errors.New("disconnect packet is invalid")

	// malformed-packet umbrella (spec §4.1)
	ErrMalformedPacket = errors.New("malformed packet")

	// Auth
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrHashFailed       = errors.New("failed to hash password")
	ErrDuplicateClient  = errors.New("client id already connected")
	ErrHandshakeTimeout = errors.New("connect handshake timed out")

	// Persistence
	ErrPersistenceUnavailable = errors.New("session persistence store unavailable")

	// Application-level (camera/drone), never terminal for a connection
	ErrIncidentOutOfRange    = errors.New("incident coordinates outside of camera range")
	ErrCameraDeleted         = errors.New("camera has been deleted")
	ErrInsufficientBattery   = errors.New("drone battery insufficient for dispatch")
	ErrIncidentAlreadyClosed = errors.New("incident already resolved")

	// Broker client
	ErrConnectRejected   = errors.New("broker rejected connect")
	ErrSubscribeRejected = errors.New("broker rejected one or more topic filters")
	ErrNotConnected      = errors.New("client is not connected")
	ErrRetriesExhausted  = errors.New("publish retries exhausted without ack")
)

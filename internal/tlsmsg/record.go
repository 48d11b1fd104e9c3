// Package tlsmsg frames and decodes the handful of TLS 1.2 messages the miner needs. Nothing here
// is cryptographically validated; failures are purely structural.
package tlsmsg

import (
	"errors"
	"fmt"
)

// TLS record types.
type recordType uint8

// Constants adapted from crypto/tls.
const (
	RecordHeaderLen    = 5            // record header length
	maxCiphertext      = 16384 + 2048 // maximum ciphertext payload length
	handshakeHeaderLen = 4            // handshake message type and uint24 length
	maxHandshake       = 65536        // maximum handshake we support (protocol max is 16 MB)

	recordTypeChangeCipherSpec recordType = 20
	recordTypeAlert            recordType = 21
	recordTypeHandshake        recordType = 22
	recordTypeApplicationData  recordType = 23
)

func (t recordType) String() string {
	switch t {
	case recordTypeChangeCipherSpec:
		return "change_cipher_spec"
	case recordTypeAlert:
		return "alert"
	case recordTypeHandshake:
		return "handshake"
	case recordTypeApplicationData:
		return "application_data"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(t))
	}
}

// TLS handshake message types.
const (
	TypeClientHello       uint8 = 1
	TypeServerHello       uint8 = 2
	TypeCertificate       uint8 = 11
	TypeServerKeyExchange uint8 = 12
	TypeServerHelloDone   uint8 = 14
)

// ErrIncomplete is returned by the framing functions when more bytes are needed. Nothing is
// consumed when it is returned.
var ErrIncomplete = errors.New("incomplete")

// A DecodeError indicates a structurally malformed record or handshake message.
type DecodeError struct {
	// Message names what was being decoded, e.g. "server hello".
	Message string
	Err     error
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("malformed %s: %v", err.Message, err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

func malformed(msg, format string, a ...interface{}) error {
	return &DecodeError{msg, fmt.Errorf(format, a...)}
}

// A Record is one length-delimited TLS record. Payload is owned by the Record.
type Record struct {
	Type    uint8
	Version uint16
	Payload []byte
}

// TryExtractRecord extracts the first record in b. It returns the record and the number of bytes
// it occupied, header included. If b does not yet hold a complete record, ErrIncomplete is returned
// and nothing is consumed. A header declaring an impossible length yields a *DecodeError.
func TryExtractRecord(b []byte) (Record, int, error) {
	if len(b) < RecordHeaderLen {
		return Record{}, 0, ErrIncomplete
	}
	hdr := b[:RecordHeaderLen]
	payloadLen := int(hdr[3])<<8 | int(hdr[4])
	if payloadLen > maxCiphertext {
		return Record{}, 0, malformed("record", "oversized record received with length %d", payloadLen)
	}
	if len(b) < RecordHeaderLen+payloadLen {
		return Record{}, 0, ErrIncomplete
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[RecordHeaderLen:])
	r := Record{
		Type:    hdr[0],
		Version: uint16(hdr[1])<<8 | uint16(hdr[2]),
		Payload: payload,
	}
	return r, RecordHeaderLen + payloadLen, nil
}

// ExpectHandshake returns a *DecodeError unless r is a handshake record. Alerts are described.
func (r Record) ExpectHandshake() error {
	switch recordType(r.Type) {
	case recordTypeHandshake:
		return nil
	case recordTypeAlert:
		if len(r.Payload) < 2 {
			return malformed("alert", "alert record of length %d", len(r.Payload))
		}
		return malformed("handshake record", "received alert (level %d, description %d)", r.Payload[0], r.Payload[1])
	default:
		return malformed("handshake record", "unexpected %v record", recordType(r.Type))
	}
}

// TryExtractHandshake extracts the first handshake message from b, the concatenated payloads of
// handshake records. The returned message includes its 4-byte header and is owned by the caller.
// Like TryExtractRecord, it returns ErrIncomplete without consuming anything when the message is
// not yet complete; this happens when a message spans records.
func TryExtractHandshake(b []byte) (msgType uint8, msg []byte, n int, err error) {
	if len(b) < handshakeHeaderLen {
		return 0, nil, 0, ErrIncomplete
	}
	msgLen := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	if msgLen > maxHandshake {
		return 0, nil, 0, malformed("handshake message",
			"message of length %d bytes exceeds maximum of %d bytes", msgLen, maxHandshake)
	}
	if len(b) < handshakeHeaderLen+msgLen {
		return 0, nil, 0, ErrIncomplete
	}
	n = handshakeHeaderLen + msgLen
	msg = make([]byte, n)
	copy(msg, b)
	return b[0], msg, n, nil
}

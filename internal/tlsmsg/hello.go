package tlsmsg

import (
	"golang.org/x/crypto/cryptobyte"
)

// Minimum ServerHello size: header, version, random, empty session id, suite and compression.
const minServerHelloLen = handshakeHeaderLen + 2 + 32 + 1 + 2 + 1

// A ServerHello message. Extensions are kept raw and not interpreted.
type ServerHello struct {
	Version           uint16
	Random            [32]byte
	SessionID         []byte
	CipherSuite       uint16
	CompressionMethod uint8
	Extensions        []byte
}

// DecodeServerHello decodes a ServerHello handshake message, header included. The result does not
// reference msg.
func DecodeServerHello(msg []byte) (*ServerHello, error) {
	const name = "server hello"

	if len(msg) < minServerHelloLen {
		return nil, malformed(name, "message of length %d bytes is less than minimum of %d bytes",
			len(msg), minServerHelloLen)
	}
	body, err := handshakeBody(name, msg, TypeServerHello)
	if err != nil {
		return nil, err
	}

	var (
		m         = new(ServerHello)
		random    []byte
		sessionID cryptobyte.String
		s         = cryptobyte.String(body)
	)
	if !s.ReadUint16(&m.Version) || !s.ReadBytes(&random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&m.CipherSuite) ||
		!s.ReadUint8(&m.CompressionMethod) {
		return nil, malformed(name, "truncated fixed fields")
	}
	copy(m.Random[:], random)
	m.SessionID = append([]byte{}, sessionID...)

	if s.Empty() {
		// ServerHello is optionally followed by extension data
		return m, nil
	}
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) || !s.Empty() {
		return nil, malformed(name, "bad extensions block")
	}
	m.Extensions = append([]byte{}, extensions...)
	return m, nil
}

// A Certificate message. It is deliberately left unparsed.
type Certificate []byte

// DecodeCertificate stores the Certificate message opaquely.
func DecodeCertificate(msg []byte) Certificate {
	return append(Certificate{}, msg...)
}

// Checks the handshake header of msg and returns the body.
func handshakeBody(name string, msg []byte, expectedType uint8) ([]byte, error) {
	var (
		msgType uint8
		body    cryptobyte.String
		s       = cryptobyte.String(msg)
	)
	if !s.ReadUint8(&msgType) || !s.ReadUint24LengthPrefixed(&body) {
		return nil, malformed(name, "truncated handshake header")
	}
	if msgType != expectedType {
		return nil, malformed(name, "expected handshake type %d, got %d", expectedType, msgType)
	}
	if !s.Empty() {
		return nil, malformed(name, "%d trailing bytes after message", len(s))
	}
	return body, nil
}

package testutil

import (
	"golang.org/x/crypto/cryptobyte"
)

// Wire values used by the builders below.
const (
	RecordTypeAlert     uint8 = 21
	RecordTypeHandshake uint8 = 22

	// SigAlgPSSWithSHA256 is rsa_pss_rsae_sha256.
	SigAlgPSSWithSHA256 uint16 = 0x0804
)

// Record frames payload as a single TLS 1.2 record.
func Record(recordType uint8, payload []byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(recordType)
	b.AddUint16(0x0303)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(payload)
	})
	return b.BytesOrPanic()
}

// HandshakeRecord places the given handshake messages, back to back, in a single record.
func HandshakeRecord(msgs ...[]byte) []byte {
	var payload []byte
	for _, m := range msgs {
		payload = append(payload, m...)
	}
	return Record(RecordTypeHandshake, payload)
}

// AlertRecord builds an alert record.
func AlertRecord(level, description uint8) []byte {
	return Record(RecordTypeAlert, []byte{level, description})
}

func handshakeMsg(msgType uint8, body func(b *cryptobyte.Builder)) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(msgType)
	b.AddUint24LengthPrefixed(body)
	return b.BytesOrPanic()
}

// ServerHelloMsg builds a TLS 1.2 ServerHello with an empty session ID and a renegotiation_info
// extension.
func ServerHelloMsg(random [32]byte, suite uint16) []byte {
	return handshakeMsg(2, func(b *cryptobyte.Builder) {
		b.AddUint16(0x0303)
		b.AddBytes(random[:])
		b.AddUint8(0) // session ID
		b.AddUint16(suite)
		b.AddUint8(0) // compression
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0xff01)
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
			})
		})
	})
}

// CertificateMsg builds a Certificate message. The certificates need not be valid DER.
func CertificateMsg(certs ...[]byte) []byte {
	return handshakeMsg(11, func(b *cryptobyte.Builder) {
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, c := range certs {
				c := c
				b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(c)
				})
			}
		})
	})
}

// ECDHEParams builds ServerECDHParams for a named curve.
func ECDHEParams(curve uint16, point []byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(3) // named_curve
	b.AddUint16(curve)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(point)
	})
	return b.BytesOrPanic()
}

// DHEParams builds ServerDHParams.
func DHEParams(p, g, ys []byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	for _, v := range [][]byte{p, g, ys} {
		v := v
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(v)
		})
	}
	return b.BytesOrPanic()
}

// ServerKeyExchangeMsg builds a TLS 1.2 ServerKeyExchange from already encoded params, signed
// with rsa_pss_rsae_sha256.
func ServerKeyExchangeMsg(params, sig []byte) []byte {
	return handshakeMsg(12, func(b *cryptobyte.Builder) {
		b.AddBytes(params)
		b.AddUint16(SigAlgPSSWithSHA256)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(sig)
		})
	})
}

// ServerHelloDoneMsg builds an empty ServerHelloDone.
func ServerHelloDoneMsg() []byte {
	return handshakeMsg(14, func(*cryptobyte.Builder) {})
}

package tlsmsg

import (
	"crypto/tls"

	"golang.org/x/crypto/cryptobyte"
)

// KeyExchange identifies how the server's key exchange parameters are laid out.
type KeyExchange int

const (
	// KeyExchangeECDHE parameters are a named curve and a point.
	KeyExchangeECDHE KeyExchange = iota + 1
	// KeyExchangeDHE parameters are a prime, a generator and the server's public value.
	KeyExchangeDHE
)

func (kx KeyExchange) String() string {
	switch kx {
	case KeyExchangeECDHE:
		return "ECDHE"
	case KeyExchangeDHE:
		return "DHE"
	default:
		return "unknown"
	}
}

// Finite-field DHE suites. crypto/tls does not define these.
const (
	suiteDHERSAWithAES128CBCSHA    uint16 = 0x0033
	suiteDHERSAWithAES256CBCSHA    uint16 = 0x0039
	suiteDHERSAWithAES128GCMSHA256 uint16 = 0x009e
	suiteDHERSAWithAES256GCMSHA384 uint16 = 0x009f
)

// curveTypeNamed is the only ECCurveType in use.
const curveTypeNamed uint8 = 3

var suites = map[uint16]KeyExchange{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA:          KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA:            KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA:          KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA:            KeyExchangeECDHE,
	suiteDHERSAWithAES128GCMSHA256:                    KeyExchangeDHE,
	suiteDHERSAWithAES256GCMSHA384:                    KeyExchangeDHE,
	suiteDHERSAWithAES128CBCSHA:                       KeyExchangeDHE,
	suiteDHERSAWithAES256CBCSHA:                       KeyExchangeDHE,
}

// preferredSuites is the order in which the ClientHello offers the suites above.
var preferredSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	suiteDHERSAWithAES128GCMSHA256,
	suiteDHERSAWithAES256GCMSHA384,
	suiteDHERSAWithAES128CBCSHA,
	suiteDHERSAWithAES256CBCSHA,
}

// KeyExchangeFor reports the key exchange used by suite, if it is one we can decode.
func KeyExchangeFor(suite uint16) (KeyExchange, bool) {
	kx, ok := suites[suite]
	return kx, ok
}

// A ServerKeyExchange message. Params holds the complete signed parameter structure, so it is
// exactly what the server's signature covers (minus the two randoms).
type ServerKeyExchange struct {
	KeyExchange        KeyExchange
	NamedCurve         tls.CurveID // ECDHE only
	Params             []byte
	SignatureAlgorithm tls.SignatureScheme
	Signature          []byte
}

// DecodeServerKeyExchange decodes a TLS 1.2 ServerKeyExchange message, header included, for the
// negotiated cipher suite.
func DecodeServerKeyExchange(msg []byte, suite uint16) (*ServerKeyExchange, error) {
	const name = "server key exchange"

	kx, ok := KeyExchangeFor(suite)
	if !ok {
		return nil, malformed(name, "unsupported cipher suite 0x%04x", suite)
	}
	body, err := handshakeBody(name, msg, TypeServerKeyExchange)
	if err != nil {
		return nil, err
	}

	s := cryptobyte.String(body)
	m := &ServerKeyExchange{KeyExchange: kx}
	switch kx {
	case KeyExchangeECDHE:
		var (
			curveType uint8
			curve     uint16
			point     cryptobyte.String
		)
		if !s.ReadUint8(&curveType) {
			return nil, malformed(name, "missing curve type")
		}
		if curveType != curveTypeNamed {
			return nil, malformed(name, "unsupported curve type %d", curveType)
		}
		if !s.ReadUint16(&curve) || !s.ReadUint8LengthPrefixed(&point) || len(point) == 0 {
			return nil, malformed(name, "bad ECDH parameters")
		}
		m.NamedCurve = tls.CurveID(curve)
	case KeyExchangeDHE:
		var p, g, ys cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&p) || len(p) == 0 ||
			!s.ReadUint16LengthPrefixed(&g) || len(g) == 0 ||
			!s.ReadUint16LengthPrefixed(&ys) || len(ys) == 0 {
			return nil, malformed(name, "bad DH parameters")
		}
	}
	paramsLen := len(body) - len(s)
	m.Params = append([]byte{}, body[:paramsLen]...)

	var (
		sigAlg uint16
		sig    cryptobyte.String
	)
	if !s.ReadUint16(&sigAlg) || !s.ReadUint16LengthPrefixed(&sig) {
		return nil, malformed(name, "bad signature")
	}
	if !s.Empty() {
		return nil, malformed(name, "%d trailing bytes after signature", len(s))
	}
	m.SignatureAlgorithm = tls.SignatureScheme(sigAlg)
	m.Signature = append([]byte{}, sig...)
	return m, nil
}

package tlsmsg

import (
	"fmt"

	utls "github.com/refraction-networking/utls"
)

// RandomOffset is the offset of the client random within a ClientHello record produced by
// BuildClientHello: record header, handshake header and the two version bytes.
const RandomOffset = RecordHeaderLen + handshakeHeaderLen + 2

// helloSpec describes a TLS 1.2 ClientHello offering only suites DecodeServerKeyExchange can
// handle.
func helloSpec(serverName string) *utls.ClientHelloSpec {
	extensions := []utls.TLSExtension{}
	if serverName != "" {
		extensions = append(extensions, &utls.SNIExtension{ServerName: serverName})
	}
	extensions = append(extensions,
		&utls.SupportedCurvesExtension{Curves: []utls.CurveID{utls.X25519, utls.CurveP256, utls.CurveP384}},
		&utls.SupportedPointsExtension{SupportedPoints: []byte{0}}, // uncompressed
		&utls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: []utls.SignatureScheme{
			utls.ECDSAWithP256AndSHA256,
			utls.PSSWithSHA256,
			utls.PKCS1WithSHA256,
			utls.ECDSAWithP384AndSHA384,
			utls.PSSWithSHA384,
			utls.PKCS1WithSHA384,
			utls.PSSWithSHA512,
			utls.PKCS1WithSHA512,
			utls.PKCS1WithSHA1,
		}},
		&utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient},
	)
	return &utls.ClientHelloSpec{
		TLSVersMin:         utls.VersionTLS12,
		TLSVersMax:         utls.VersionTLS12,
		CipherSuites:       append([]uint16{}, preferredSuites...),
		CompressionMethods: []byte{0},
		Extensions:         extensions,
	}
}

// BuildClientHello returns a complete handshake record holding a TLS 1.2 ClientHello which
// carries the given client random. An empty serverName omits the SNI extension.
func BuildClientHello(random [32]byte, serverName string) ([]byte, error) {
	// The handshake is never completed, so nothing is ever verified. Without a server name, utls
	// refuses to build a hello unless verification is explicitly skipped.
	uconn := utls.UClient(nil, &utls.Config{ServerName: serverName, InsecureSkipVerify: true}, utls.HelloCustom)
	if err := uconn.ApplyPreset(helloSpec(serverName)); err != nil {
		return nil, fmt.Errorf("failed to apply hello spec: %w", err)
	}
	if err := uconn.BuildHandshakeState(); err != nil {
		return nil, fmt.Errorf("failed to build handshake state: %w", err)
	}
	if err := uconn.SetClientRandom(random[:]); err != nil {
		return nil, fmt.Errorf("failed to set client random: %w", err)
	}
	if err := uconn.MarshalClientHello(); err != nil {
		return nil, fmt.Errorf("failed to marshal client hello: %w", err)
	}

	hello := uconn.HandshakeState.Hello.Raw
	record := make([]byte, RecordHeaderLen, RecordHeaderLen+len(hello))
	// Some servers fail if the record version of the initial ClientHello is above TLS 1.0.
	record[0] = byte(recordTypeHandshake)
	record[1], record[2] = 0x03, 0x01
	record[3], record[4] = byte(len(hello)>>8), byte(len(hello))
	return append(record, hello...), nil
}

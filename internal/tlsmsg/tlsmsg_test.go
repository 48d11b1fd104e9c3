package tlsmsg

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/getlantern/tlsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/tlsminer/internal/testutil"
)

func filled(b byte) (out [32]byte) {
	for i := range out {
		out[i] = b
	}
	return
}

func TestTryExtractRecord(t *testing.T) {
	t.Parallel()

	first := testutil.HandshakeRecord(testutil.ServerHelloMsg(filled(1), tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256))
	second := testutil.AlertRecord(2, 40)
	stream := append(append([]byte{}, first...), second...)

	t.Run("incomplete header", func(t *testing.T) {
		for i := 0; i < RecordHeaderLen; i++ {
			_, n, err := TryExtractRecord(stream[:i])
			require.Equal(t, ErrIncomplete, err)
			require.Zero(t, n)
		}
	})

	t.Run("incomplete payload", func(t *testing.T) {
		_, n, err := TryExtractRecord(first[:len(first)-1])
		require.Equal(t, ErrIncomplete, err)
		require.Zero(t, n)
	})

	t.Run("back to back", func(t *testing.T) {
		r, n, err := TryExtractRecord(stream)
		require.NoError(t, err)
		require.Equal(t, len(first), n)
		require.Equal(t, testutil.RecordTypeHandshake, r.Type)
		require.Equal(t, uint16(0x0303), r.Version)
		require.Equal(t, first[RecordHeaderLen:], r.Payload)

		r, n, err = TryExtractRecord(stream[n:])
		require.NoError(t, err)
		require.Equal(t, len(second), n)
		require.Equal(t, testutil.RecordTypeAlert, r.Type)
	})

	t.Run("payload is a copy", func(t *testing.T) {
		buf := append([]byte{}, first...)
		r, _, err := TryExtractRecord(buf)
		require.NoError(t, err)
		buf[RecordHeaderLen] ^= 0xff
		require.Equal(t, first[RecordHeaderLen:], r.Payload)
	})

	t.Run("oversized", func(t *testing.T) {
		_, _, err := TryExtractRecord([]byte{22, 3, 3, 0xff, 0xff})
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
	})

	t.Run("empty payload", func(t *testing.T) {
		r, n, err := TryExtractRecord([]byte{22, 3, 3, 0, 0, 22})
		require.NoError(t, err)
		require.Equal(t, RecordHeaderLen, n)
		require.Empty(t, r.Payload)
	})
}

func TestExpectHandshake(t *testing.T) {
	t.Parallel()

	require.NoError(t, Record{Type: 22}.ExpectHandshake())

	err := Record{Type: 21, Payload: []byte{2, 40}}.ExpectHandshake()
	require.Error(t, err)
	require.Contains(t, err.Error(), "level 2")
	require.Contains(t, err.Error(), "description 40")

	require.Error(t, Record{Type: 21, Payload: []byte{2}}.ExpectHandshake())

	for recordType, name := range map[uint8]string{
		20: "change_cipher_spec",
		23: "application_data",
		99: "unknown (99)",
	} {
		err := Record{Type: recordType, Payload: []byte("data")}.ExpectHandshake()
		require.Error(t, err)
		require.Contains(t, err.Error(), name)
	}
}

func TestTryExtractHandshake(t *testing.T) {
	t.Parallel()

	var (
		hello = testutil.ServerHelloMsg(filled(2), tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
		cert  = testutil.CertificateMsg(bytes.Repeat([]byte{0x30}, 3000))
		both  = append(append([]byte{}, hello...), cert...)
	)

	msgType, msg, n, err := TryExtractHandshake(both)
	require.NoError(t, err)
	require.Equal(t, TypeServerHello, msgType)
	require.Equal(t, hello, msg)
	require.Equal(t, len(hello), n)

	_, _, n, err = TryExtractHandshake(both[len(hello) : len(both)-1])
	require.Equal(t, ErrIncomplete, err)
	require.Zero(t, n)

	msgType, msg, _, err = TryExtractHandshake(both[len(hello):])
	require.NoError(t, err)
	require.Equal(t, TypeCertificate, msgType)
	require.Equal(t, cert, msg)

	_, _, _, err = TryExtractHandshake([]byte{11, 0xff, 0xff, 0xff})
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestDecodeServerHello(t *testing.T) {
	t.Parallel()

	random := filled(0x42)

	t.Run("valid", func(t *testing.T) {
		msg := testutil.ServerHelloMsg(random, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
		sh, err := DecodeServerHello(msg)
		require.NoError(t, err)
		require.Equal(t, uint16(tls.VersionTLS12), sh.Version)
		require.Equal(t, random, sh.Random)
		require.Equal(t, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, sh.CipherSuite)
		require.Empty(t, sh.SessionID)
		require.NotEmpty(t, sh.Extensions)

		msg[10] ^= 0xff
		require.Equal(t, random, sh.Random, "decoded random references input")
	})

	t.Run("no extensions", func(t *testing.T) {
		msg := testutil.ServerHelloMsg(random, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
		// Drop the extension block and fix up the length.
		msg = msg[:minServerHelloLen]
		msg[3] = byte(minServerHelloLen - handshakeHeaderLen)
		sh, err := DecodeServerHello(msg)
		require.NoError(t, err)
		require.Nil(t, sh.Extensions)
	})

	t.Run("too short", func(t *testing.T) {
		msg := testutil.ServerHelloMsg(random, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
		_, err := DecodeServerHello(msg[:20])
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
	})

	t.Run("wrong type", func(t *testing.T) {
		msg := testutil.ServerHelloMsg(random, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
		msg[0] = TypeCertificate
		_, err := DecodeServerHello(msg)
		require.Error(t, err)
	})

	t.Run("session id overruns", func(t *testing.T) {
		msg := testutil.ServerHelloMsg(random, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
		msg[handshakeHeaderLen+2+32] = 0xff
		_, err := DecodeServerHello(msg)
		require.Error(t, err)
	})

	t.Run("certificate is opaque", func(t *testing.T) {
		msg := testutil.CertificateMsg([]byte("not DER"))
		cert := DecodeCertificate(msg)
		require.Equal(t, Certificate(msg), cert)
		msg[0] = 0
		require.NotEqual(t, Certificate(msg), cert)
	})
}

func TestDecodeServerKeyExchange(t *testing.T) {
	t.Parallel()

	var (
		point      = append([]byte{4}, bytes.Repeat([]byte{0x17}, 64)...)
		ecParams   = testutil.ECDHEParams(uint16(tls.CurveP256), point)
		dhParams   = testutil.DHEParams(bytes.Repeat([]byte{0xc3}, 256), []byte{2}, bytes.Repeat([]byte{0x5c}, 256))
		sig        = bytes.Repeat([]byte{0xab}, 256)
		ecdheSuite = tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256
		dheSuite   = uint16(0x009e)
	)

	t.Run("ecdhe", func(t *testing.T) {
		ske, err := DecodeServerKeyExchange(testutil.ServerKeyExchangeMsg(ecParams, sig), ecdheSuite)
		require.NoError(t, err)
		require.Equal(t, KeyExchangeECDHE, ske.KeyExchange)
		require.Equal(t, tls.CurveP256, ske.NamedCurve)
		require.Equal(t, ecParams, ske.Params)
		require.Equal(t, sig, ske.Signature)
		require.Equal(t, tls.PSSWithSHA256, ske.SignatureAlgorithm)
	})

	t.Run("dhe", func(t *testing.T) {
		ske, err := DecodeServerKeyExchange(testutil.ServerKeyExchangeMsg(dhParams, sig), dheSuite)
		require.NoError(t, err)
		require.Equal(t, KeyExchangeDHE, ske.KeyExchange)
		require.Equal(t, dhParams, ske.Params)
		require.Equal(t, sig, ske.Signature)
	})

	t.Run("empty signature", func(t *testing.T) {
		ske, err := DecodeServerKeyExchange(testutil.ServerKeyExchangeMsg(ecParams, nil), ecdheSuite)
		require.NoError(t, err)
		require.Empty(t, ske.Signature)
	})

	for _, tc := range []struct {
		name   string
		msg    []byte
		suite  uint16
		errMsg string
	}{
		{"unknown suite", testutil.ServerKeyExchangeMsg(ecParams, sig), tls.TLS_RSA_WITH_AES_128_GCM_SHA256, "unsupported cipher suite"},
		{"ecdhe params under dhe suite", testutil.ServerKeyExchangeMsg(ecParams, sig), dheSuite, ""},
		{"explicit curve", testutil.ServerKeyExchangeMsg(append([]byte{1}, ecParams[1:]...), sig), ecdheSuite, "curve type"},
		{"signature overruns", overrunSignature(testutil.ServerKeyExchangeMsg(ecParams, sig)), ecdheSuite, "bad signature"},
		{"trailing bytes", appendTrailing(testutil.ServerKeyExchangeMsg(ecParams, sig)), ecdheSuite, "trailing"},
		{"wrong type", testutil.ServerHelloMsg(filled(1), tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256), ecdheSuite, "expected handshake type"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeServerKeyExchange(tc.msg, tc.suite)
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr), "expected decode error, got %v", err)
			if tc.errMsg != "" {
				require.Contains(t, err.Error(), tc.errMsg)
			}
		})
	}
}

// Declares a signature one byte longer than what follows.
func overrunSignature(msg []byte) []byte {
	msg = append([]byte{}, msg...)
	sigLenAt := len(msg) - 256 - 2
	msg[sigLenAt+1]++
	return msg
}

// Appends a byte after the signature while keeping the handshake length consistent.
func appendTrailing(msg []byte) []byte {
	msg = append(append([]byte{}, msg...), 0)
	bodyLen := len(msg) - handshakeHeaderLen
	msg[1], msg[2], msg[3] = byte(bodyLen>>16), byte(bodyLen>>8), byte(bodyLen)
	return msg
}

func TestBuildClientHello(t *testing.T) {
	t.Parallel()

	random := filled(0x5a)

	hello, err := BuildClientHello(random, "example.com")
	require.NoError(t, err)

	_, err = tlsutil.ValidateClientHello(hello)
	require.NoError(t, err)

	record, n, err := TryExtractRecord(hello)
	require.NoError(t, err)
	require.Equal(t, len(hello), n)
	require.NoError(t, record.ExpectHandshake())
	require.Equal(t, uint16(tls.VersionTLS10), record.Version)

	msgType, _, _, err := TryExtractHandshake(record.Payload)
	require.NoError(t, err)
	require.Equal(t, TypeClientHello, msgType)
	require.Equal(t, []byte{0x03, 0x03}, hello[RandomOffset-2:RandomOffset])
	require.Equal(t, random[:], hello[RandomOffset:RandomOffset+32])
	require.True(t, bytes.Contains(hello, []byte("example.com")))

	t.Run("no server name", func(t *testing.T) {
		hello, err := BuildClientHello(random, "")
		require.NoError(t, err)
		_, err = tlsutil.ValidateClientHello(hello)
		require.NoError(t, err)
		require.False(t, bytes.Contains(hello, []byte("example.com")))
		require.Equal(t, random[:], hello[RandomOffset:RandomOffset+32])
		// Without SNI, the hello is exactly the SNI extension's length shorter.
		sniLen := 2 + 2 + 2 + 1 + 2 + len("example.com")
		named, err := BuildClientHello(random, "example.com")
		require.NoError(t, err)
		require.Len(t, hello, len(named)-sniLen)
	})

	t.Run("random differs", func(t *testing.T) {
		other, err := BuildClientHello(filled(0x5b), "example.com")
		require.NoError(t, err)
		require.NotEqual(t, hello[RandomOffset:RandomOffset+32], other[RandomOffset:RandomOffset+32])
	})
}

// Sends our ClientHello to a real crypto/tls server and decodes its first flight.
func TestRealServerFlight(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		cert tls.Certificate
	}{
		{"rsa", testutil.RSACert},
		{"ecdsa", testutil.ECCert},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			tlsServer := tls.Server(server, &tls.Config{
				Certificates: []tls.Certificate{tc.cert},
				MaxVersion:   tls.VersionTLS12,
			})
			go tlsServer.Handshake()

			hello, err := BuildClientHello(filled(7), "localhost")
			require.NoError(t, err)
			require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
			_, err = client.Write(hello)
			require.NoError(t, err)

			var (
				recordBuf, hsBuf []byte
				records          int
				msgs             = map[uint8][]byte{}
				buf              = make([]byte, 4096)
			)
			for msgs[TypeServerHelloDone] == nil {
				n, err := client.Read(buf)
				require.NoError(t, err)
				recordBuf = append(recordBuf, buf[:n]...)
				for {
					r, n, err := TryExtractRecord(recordBuf)
					if err == ErrIncomplete {
						break
					}
					require.NoError(t, err)
					require.NoError(t, r.ExpectHandshake())
					if records == 0 {
						sh, err := tlsutil.ParseServerHello(recordBuf[:n])
						require.NoError(t, err)
						assert.Equal(t, uint16(tls.VersionTLS12), sh.Version)
					}
					records++
					recordBuf = recordBuf[n:]
					hsBuf = append(hsBuf, r.Payload...)
				}
				for {
					msgType, msg, n, err := TryExtractHandshake(hsBuf)
					if err == ErrIncomplete {
						break
					}
					require.NoError(t, err)
					msgs[msgType] = msg
					hsBuf = hsBuf[n:]
				}
			}

			sh, err := DecodeServerHello(msgs[TypeServerHello])
			require.NoError(t, err)
			require.Equal(t, uint16(tls.VersionTLS12), sh.Version)
			kx, ok := KeyExchangeFor(sh.CipherSuite)
			require.True(t, ok, "negotiated suite 0x%04x", sh.CipherSuite)
			require.Equal(t, KeyExchangeECDHE, kx)

			require.NotNil(t, msgs[TypeCertificate])

			ske, err := DecodeServerKeyExchange(msgs[TypeServerKeyExchange], sh.CipherSuite)
			require.NoError(t, err)
			require.Equal(t, tls.X25519, ske.NamedCurve)
			require.Len(t, ske.Params, 1+2+1+32)
			require.NotEmpty(t, ske.Signature)
		})
	}
}

func FuzzTryExtractRecord(f *testing.F) {
	f.Add(testutil.HandshakeRecord(testutil.ServerHelloMsg(filled(1), tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)))
	f.Add(testutil.AlertRecord(2, 40))
	f.Fuzz(func(t *testing.T, b []byte) {
		for len(b) > 0 {
			r, n, err := TryExtractRecord(b)
			if err != nil {
				return
			}
			if n != RecordHeaderLen+len(r.Payload) || n > len(b) {
				t.Fatalf("consumed %d bytes for a payload of %d", n, len(r.Payload))
			}
			b = b[n:]
		}
	})
}

func FuzzDecodeServerKeyExchange(f *testing.F) {
	point := append([]byte{4}, bytes.Repeat([]byte{0x17}, 64)...)
	f.Add(testutil.ServerKeyExchangeMsg(testutil.ECDHEParams(uint16(tls.CurveP256), point), []byte("sig")),
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
	f.Add(testutil.ServerKeyExchangeMsg(testutil.DHEParams([]byte{23}, []byte{5}, []byte{8}), []byte("sig")),
		uint16(0x0033))
	f.Fuzz(func(t *testing.T, msg []byte, suite uint16) {
		ske, err := DecodeServerKeyExchange(msg, suite)
		if err != nil {
			return
		}
		if len(ske.Params)+len(ske.Signature) > len(msg) {
			t.Fatalf("decoded more than the input")
		}
	})
}

func FuzzDecodeServerHello(f *testing.F) {
	f.Add(testutil.ServerHelloMsg(filled(1), tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256))
	f.Fuzz(func(t *testing.T, msg []byte) {
		DecodeServerHello(msg)
	})
}

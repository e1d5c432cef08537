package ribbit

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeResponsePassesThroughRawV2BPSV(t *testing.T) {
	raw := []byte("Region!STRING:0|BuildConfig!HEX:16\nus|aabbccdd\n")
	out, err := decodeResponse(context.Background(), &Client{}, raw)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestLooksLikeV1Envelope(t *testing.T) {
	require.True(t, looksLikeV1Envelope([]byte("MIME-Version: 1.0\r\n")))
	require.False(t, looksLikeV1Envelope([]byte("Region!STRING:0\nus\n")))
}

func TestDecodeV1EnvelopeVerifiesChecksumAndSignature(t *testing.T) {
	bpsvBody := []byte("Region!STRING:0|BuildConfig!HEX:16\nus|aabbccdd\n")

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certDER := selfSignedCert(t, priv)

	raw, boundary := buildEnvelope(t, bpsvBody, priv, certDER)
	_ = boundary

	out, err := decodeResponse(context.Background(), &Client{}, raw)
	require.NoError(t, err)
	require.Equal(t, bpsvBody, out)
}

func TestDecodeV1EnvelopeRejectsTamperedBody(t *testing.T) {
	bpsvBody := []byte("Region!STRING:0|BuildConfig!HEX:16\nus|aabbccdd\n")

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certDER := selfSignedCert(t, priv)

	raw, _ := buildEnvelope(t, bpsvBody, priv, certDER)

	tampered := []byte(string(raw))
	for i := range tampered {
		if tampered[i] == 'a' {
			tampered[i] = 'b'
			break
		}
	}

	_, err = decodeResponse(context.Background(), &Client{}, tampered)
	require.Error(t, err)
}

func TestChecksumFromEpilogue(t *testing.T) {
	epilogue := []byte("\r\nChecksum: deadBEEF\r\n")
	got, ok := checksumFromEpilogue(epilogue)
	require.True(t, ok)
	require.Equal(t, "deadBEEF", got)
}

// --- test fixtures ---

func selfSignedCert(t *testing.T, priv *rsa.PrivateKey) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ribbit-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		SubjectKeyId:          []byte{0xde, 0xad, 0xbe, 0xef},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	return der
}

// buildEnvelope hand-assembles a V1-style MIME envelope: headers, a
// multipart body (BPSV part + PKCS#7 signature part), and an epilogue
// carrying the SHA-256 checksum of the BPSV body part.
func buildEnvelope(t *testing.T, bpsvBody []byte, priv *rsa.PrivateKey, certDER []byte) ([]byte, string) {
	t.Helper()
	const boundary = "----testboundary----"

	digest := sha256.Sum256(bpsvBody)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)

	pkcs7 := marshalPKCS7(t, certDER, digest[:], sig)

	signed := []byte("--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		string(bpsvBody) + "\r\n")
	signed = append(signed, []byte("--"+boundary+"\r\n"+
		"Content-Type: application/pkcs7-signature\r\n\r\n")...)
	signed = append(signed, pkcs7...)
	signed = append(signed, []byte("\r\n--"+boundary+"--")...)

	epilogue := []byte(fmt.Sprintf("\r\nChecksum: %x\r\n", digest))

	header := "MIME-Version: 1.0\r\n" +
		`Content-Type: multipart/signed; protocol="application/pkcs7-signature"; micalg="sha-256"; boundary="` + boundary + `"` + "\r\n\r\n"

	raw := append([]byte(header), signed...)
	raw = append(raw, epilogue...)
	return raw, boundary
}

func marshalPKCS7(t *testing.T, certDER, digest, sig []byte) []byte {
	t.Helper()
	sd := pkcs7SignedData{
		Version: 1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{
			{Algorithm: oidSHA256},
		},
		ContentInfo: pkcs7ContentInfo{
			ContentType: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1},
		},
		Certificates: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      certDER,
		},
		SignerInfos: []pkcs7SignerInfo{
			{
				Version: asn1.RawValue{FullBytes: []byte{0x02, 0x01, 0x01}},
				IssuerAndSerialNumber: issuerAndSerial{
					Issuer: asn1.RawValue{FullBytes: []byte{0x30, 0x00}},
					Serial: asn1.RawValue{FullBytes: []byte{0x02, 0x01, 0x01}},
				},
				DigestAlgorithm:     pkix.AlgorithmIdentifier{Algorithm: oidSHA256},
				DigestEncryptionAlg: pkix.AlgorithmIdentifier{Algorithm: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}},
				EncryptedDigest:     sig,
			},
		},
	}
	sdBytes, err := asn1.Marshal(sd)
	require.NoError(t, err)

	outer := pkcs7ContentInfo{
		ContentType: asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2},
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      sdBytes,
		},
	}
	out, err := asn1.Marshal(outer)
	require.NoError(t, err)
	return out
}

package ribbit

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"hash"

	"github.com/wowemulation-dev/ngdp/cache"
	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"k8s.io/klog/v2"
)

// The structures below mirror the subset of PKCS#7 SignedData
// (RFC 2315) Ribbit responses actually use: one digest algorithm, one
// embedded certificate, one SignerInfo, RSA-PKCS1v1.5 over SHA-{256,384,512}.
// No third-party module in the retrieval pack covers PKCS#7 parsing, so
// this is built directly on crypto/x509 and encoding/asn1 (see DESIGN.md).

type pkcs7ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type pkcs7SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      pkcs7ContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []pkcs7SignerInfo `asn1:"set"`
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial asn1.RawValue
}

type pkcs7SignerInfo struct {
	Version                asn1.RawValue
	IssuerAndSerialNumber  issuerAndSerial
	DigestAlgorithm        pkix.AlgorithmIdentifier
	AuthenticatedAttrs     asn1.RawValue `asn1:"optional,tag:0"`
	DigestEncryptionAlg    pkix.AlgorithmIdentifier
	EncryptedDigest        []byte
	UnauthenticatedAttrs   asn1.RawValue `asn1:"optional,tag:1"`
}

var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

func hashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, hash.Hash, error) {
	switch {
	case oid.Equal(oidSHA256):
		return crypto.SHA256, sha256.New(), nil
	case oid.Equal(oidSHA384):
		return crypto.SHA384, sha512.New384(), nil
	case oid.Equal(oidSHA512):
		return crypto.SHA512, sha512.New(), nil
	default:
		return 0, nil, &ngdperr.Crypto{Kind: "digest_algorithm", Detail: "unsupported digest OID " + oid.String()}
	}
}

// verifySignature parses the outer PKCS#7 ContentInfo wrapping a
// SignedData, takes the signer certificate embedded in it, and checks the
// RSA-PKCS1v1.5 signature over signedBody's digest. A SignedData without a
// usable embedded certificate is rejected; no /v1/certs/{ski} fetch is made.
func verifySignature(ctx context.Context, c *Client, signedBody, sig []byte) error {
	var outer pkcs7ContentInfo
	if _, err := asn1.Unmarshal(sig, &outer); err != nil {
		return &ngdperr.Crypto{Kind: "pkcs7_parse", Detail: err.Error()}
	}

	var sd pkcs7SignedData
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &sd); err != nil {
		return &ngdperr.Crypto{Kind: "pkcs7_parse", Detail: err.Error()}
	}
	if len(sd.SignerInfos) == 0 {
		return &ngdperr.Crypto{Kind: "pkcs7_parse", Detail: "SignedData has no SignerInfo"}
	}
	signer := sd.SignerInfos[0]

	cryptoHash, h, err := hashForOID(signer.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	h.Write(signedBody)
	digest := h.Sum(nil)

	cert, err := signerCertificate(ctx, c, sd.Certificates.Bytes)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return &ngdperr.Crypto{Kind: "pkcs7_pubkey", Detail: "signer certificate does not carry an RSA public key"}
	}

	if err := rsa.VerifyPKCS1v15(pub, cryptoHash, digest, signer.EncryptedDigest); err != nil {
		return &ngdperr.Crypto{Kind: "pkcs7_signature", Detail: "RSA-PKCS1v1.5 verification failed: " + err.Error()}
	}

	ski := skiHex(cert)
	klog.V(3).Infof("ribbit: envelope signature verified, signer SKI=%s", ski)
	if c.Certs != nil && len(cert.Raw) > 0 {
		if err := c.Certs.Set(cache.KindCertificate, ski, cert.Raw); err != nil {
			klog.V(3).Infof("ribbit: failed to cache signer certificate %s: %v", ski, err)
		}
	}
	return nil
}

// signerCertificate returns the first certificate embedded in the
// SignedData.certificates SET OF Certificate, or a Missing error when none
// parses.
func signerCertificate(ctx context.Context, c *Client, rawCerts []byte) (*x509.Certificate, error) {
	if len(rawCerts) > 0 {
		certs, err := x509.ParseCertificates(rawCerts)
		if err == nil && len(certs) > 0 {
			return certs[0], nil
		}
	}

	// No usable embedded certificate: the signer must be looked up by
	// Subject Key Identifier, but we have no SKI without a certificate
	// to read it from. Ribbit always embeds the signer's certificate in
	// practice; this path exists for the hypothetical case it doesn't
	// and simply surfaces a clear error rather than guessing.
	return nil, &ngdperr.Missing{Kind: "pkcs7_certificate", Resource: "no embedded signer certificate in envelope"}
}

// skiHex returns the hex-encoded Subject Key Identifier of cert, the
// lookup key for the /v1/certs/{ski} endpoint.
func skiHex(cert *x509.Certificate) string {
	return hex.EncodeToString(cert.SubjectKeyId)
}

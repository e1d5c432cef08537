package ribbit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
	"k8s.io/klog/v2"
)

// decodeResponse returns the BPSV payload from a raw Ribbit response,
// handling both wire variants named in spec.md §4 "Ribbit (wire)": a V2
// response is the BPSV document with no wrapping, a V1 response is a MIME
// multipart envelope whose epilogue carries a SHA-256 of the body and
// whose parts carry the BPSV payload and a PKCS#7 signature.
func decodeResponse(ctx context.Context, c *Client, raw []byte) ([]byte, error) {
	if !looksLikeV1Envelope(raw) {
		return raw, nil
	}
	return decodeV1Envelope(ctx, c, raw)
}

func looksLikeV1Envelope(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, "\r\n")
	return bytes.HasPrefix(trimmed, []byte("MIME-Version:")) || bytes.HasPrefix(trimmed, []byte("Content-Type:"))
}

// decodeV1Envelope parses the MIME message, extracts the BPSV body part
// and the PKCS#7 signature part, validates the epilogue's SHA-256 digest
// of the signed body, and verifies the signature before returning the
// BPSV bytes. A checksum or signature failure is a Crypto error, never
// silently ignored.
func decodeV1Envelope(ctx context.Context, c *Client, raw []byte) ([]byte, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: err.Error()}
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: "missing or bad multipart Content-Type"}
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: "multipart Content-Type missing boundary"}
	}

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: err.Error()}
	}

	signedBody, epilogue := splitEpilogue(bodyBytes, boundary)

	var bpsvPart, sigPart []byte
	mr := multipart.NewReader(bytes.NewReader(signedBody), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: err.Error()}
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: err.Error()}
		}
		switch ct := part.Header.Get("Content-Type"); {
		case strings.Contains(ct, "pkcs7-signature"), strings.Contains(ct, "octet-stream"):
			sigPart = data
		default:
			bpsvPart = data
		}
	}
	if bpsvPart == nil {
		return nil, &ngdperr.Protocol{Kind: "ribbit_envelope", Detail: "no BPSV part found in envelope"}
	}

	if wantHex, ok := checksumFromEpilogue(epilogue); ok {
		sum := sha256.Sum256(bpsvPart)
		if hex.EncodeToString(sum[:]) != strings.ToLower(wantHex) {
			return nil, &ngdperr.Crypto{Kind: "epilogue_checksum", Detail: "SHA-256 of envelope body does not match epilogue"}
		}
	}

	if sigPart != nil {
		if err := verifySignature(ctx, c, bpsvPart, sigPart); err != nil {
			return nil, err
		}
	} else {
		klog.V(2).Infof("ribbit: envelope had no PKCS#7 part, signature not verified")
	}

	return bpsvPart, nil
}

// splitEpilogue separates the MIME body into the signed multipart
// section (ending at the final "--boundary--" line) and everything after
// it, the epilogue, which carries the "SHA-256 of the body" checksum line.
func splitEpilogue(body []byte, boundary string) (signed, epilogue []byte) {
	closing := []byte("--" + boundary + "--")
	idx := bytes.Index(body, closing)
	if idx < 0 {
		return body, nil
	}
	end := idx + len(closing)
	return body[:end], body[end:]
}

// checksumFromEpilogue scans the epilogue for a "Checksum: <hex>" style
// line (case-insensitive key), the SHA-256 digest of the BPSV body part.
func checksumFromEpilogue(epilogue []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(epilogue))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.ToLower(strings.TrimSpace(line[:idx]))
			if key == "checksum" || key == "sha-256" || key == "sha256" {
				return strings.TrimSpace(line[idx+1:]), true
			}
		}
	}
	return "", false
}

// decodePEMOrDER accepts either a PEM-wrapped certificate (as the
// /v1/certs/{ski} endpoint returns) or raw DER, and returns DER bytes.
func decodePEMOrDER(data []byte) ([]byte, error) {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	if len(data) == 0 {
		return nil, &ngdperr.Protocol{Kind: "ribbit_cert", Detail: "empty certificate response"}
	}
	return data, nil
}

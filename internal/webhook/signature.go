package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Verifier checks the x-signature header MercadoPago attaches to webhook
// deliveries. With no configured secret it rejects everything: fail closed,
// never open.
type Verifier struct {
	Secret string
}

// parseXSignature splits "ts=1700000000,v1=abcdef..." into its parts.
func parseXSignature(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "ts="):
			ts = part[len("ts="):]
		case strings.HasPrefix(part, "v1="):
			v1 = part[len("v1="):]
		}
	}
	return ts, v1
}

// Verify recomputes the HMAC-SHA256 over both canonical manifests the
// provider has used (payment id + request id + timestamp, and timestamp +
// request id + raw body) and accepts if either matches the received value.
// Comparison is constant-time; truncated or prefix matches never pass.
func (v Verifier) Verify(rawBody []byte, signatureHeader, requestID, paymentID string) bool {
	if v.Secret == "" {
		return false
	}
	if signatureHeader == "" || requestID == "" || paymentID == "" {
		return false
	}
	ts, v1 := parseXSignature(signatureHeader)
	if ts == "" || v1 == "" {
		return false
	}
	received, err := hex.DecodeString(v1)
	if err != nil || len(received) != sha256.Size {
		return false
	}

	manifests := [2]string{
		fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts),
		fmt.Sprintf("ts:%s;request-id:%s;body:%s;", ts, requestID, rawBody),
	}
	for _, m := range manifests {
		mac := hmac.New(sha256.New, []byte(v.Secret))
		mac.Write([]byte(m))
		if hmac.Equal(received, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

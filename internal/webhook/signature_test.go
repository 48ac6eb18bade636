package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

const testSecret = "shh-webhook-secret"

func sign(t *testing.T, secret, manifest string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func header(ts, v1 string) string { return fmt.Sprintf("ts=%s,v1=%s", ts, v1) }

func TestVerify_PrimaryManifest(t *testing.T) {
	v := Verifier{Secret: testSecret}
	manifest := "id:12345;request-id:req-1;ts:1700000000;"
	h := header("1700000000", sign(t, testSecret, manifest))

	if !v.Verify([]byte(`{"data":{"id":"12345"}}`), h, "req-1", "12345") {
		t.Fatal("expected valid primary-manifest signature to verify")
	}
}

func TestVerify_AlternateManifest(t *testing.T) {
	v := Verifier{Secret: testSecret}
	body := []byte(`{"data":{"id":"12345"}}`)
	manifest := fmt.Sprintf("ts:%s;request-id:%s;body:%s;", "1700000000", "req-1", body)
	h := header("1700000000", sign(t, testSecret, manifest))

	if !v.Verify(body, h, "req-1", "12345") {
		t.Fatal("expected valid alternate-manifest signature to verify")
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	v := Verifier{Secret: testSecret}
	body := []byte(`{"data":{"id":"12345"}}`)
	manifest := fmt.Sprintf("ts:%s;request-id:%s;body:%s;", "1700000000", "req-1", body)
	h := header("1700000000", sign(t, testSecret, manifest))

	tampered := []byte(`{"data":{"id":"99999"}}`)
	if v.Verify(tampered, h, "req-1", "99999") {
		t.Fatal("tampered body with unchanged signature header must be rejected")
	}
}

func TestVerify_NoSecretFailsClosed(t *testing.T) {
	v := Verifier{Secret: ""}
	manifest := "id:12345;request-id:req-1;ts:1700000000;"
	h := header("1700000000", sign(t, testSecret, manifest))

	if v.Verify([]byte(`{}`), h, "req-1", "12345") {
		t.Fatal("verification must fail when no secret is configured")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := Verifier{Secret: testSecret}
	manifest := "id:12345;request-id:req-1;ts:1700000000;"
	h := header("1700000000", sign(t, "other-secret", manifest))

	if v.Verify([]byte(`{}`), h, "req-1", "12345") {
		t.Fatal("signature from a different secret must be rejected")
	}
}

func TestVerify_TruncatedMACRejected(t *testing.T) {
	v := Verifier{Secret: testSecret}
	manifest := "id:12345;request-id:req-1;ts:1700000000;"
	full := sign(t, testSecret, manifest)

	// Prefix of the correct MAC must never pass.
	h := header("1700000000", full[:32])
	if v.Verify([]byte(`{}`), h, "req-1", "12345") {
		t.Fatal("truncated MAC must be rejected")
	}
}

func TestVerify_MissingParts(t *testing.T) {
	v := Verifier{Secret: testSecret}
	manifest := "id:12345;request-id:req-1;ts:1700000000;"
	good := header("1700000000", sign(t, testSecret, manifest))

	cases := []struct {
		name                  string
		sig, requestID, payID string
	}{
		{"no header", "", "req-1", "12345"},
		{"no request id", good, "", "12345"},
		{"no payment id", good, "req-1", ""},
		{"malformed header", "v1only=abc", "req-1", "12345"},
		{"non-hex mac", header("1700000000", "zzzz"), "req-1", "12345"},
	}
	for _, tc := range cases {
		if v.Verify([]byte(`{}`), tc.sig, tc.requestID, tc.payID) {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestParseXSignature(t *testing.T) {
	ts, v1 := parseXSignature("ts=1700000000, v1=abcdef")
	if ts != "1700000000" || v1 != "abcdef" {
		t.Fatalf("got ts=%q v1=%q", ts, v1)
	}
	ts, v1 = parseXSignature("garbage")
	if ts != "" || v1 != "" {
		t.Fatalf("expected empty parts, got ts=%q v1=%q", ts, v1)
	}
}

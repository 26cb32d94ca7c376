package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"entry":[{"id":"1"}]}`)
	secret := "shh-its-a-secret"

	if !verifySignature(sign(body, secret), body, secret) {
		t.Fatal("expected matching signature to verify")
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"entry":[{"id":"1"}]}`)
	if verifySignature(sign(body, "correct-secret"), body, "wrong-secret") {
		t.Fatal("expected mismatched secret to fail verification")
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := "shh-its-a-secret"
	sig := sign([]byte(`{"entry":[{"id":"1"}]}`), secret)
	if verifySignature(sig, []byte(`{"entry":[{"id":"2"}]}`), secret) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifySignatureRejectsMissingPrefix(t *testing.T) {
	body := []byte(`{}`)
	secret := "s"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	bare := hex.EncodeToString(mac.Sum(nil))
	if verifySignature(bare, body, secret) {
		t.Fatal("expected signature without sha256= prefix to be rejected")
	}
}

func TestVerifySignatureRejectsEmptyHeaderOrSecret(t *testing.T) {
	body := []byte(`{}`)
	if verifySignature("", body, "secret") {
		t.Fatal("empty header should not verify")
	}
	if verifySignature(sign(body, "secret"), body, "") {
		t.Fatal("empty secret should not verify")
	}
}

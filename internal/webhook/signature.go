package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifySignature checks the X-Hub-Signature-256 header against rawBody
// using appSecret, ported from verifyMetaSignature in
// filiponegrao-penelope_chatbot_backend/controllers/webhook.go: strip the
// "sha256=" prefix, hex-decode, and compare with hmac.Equal for a
// constant-time check.
func verifySignature(header string, rawBody []byte, appSecret string) bool {
	sig := strings.TrimSpace(header)
	if sig == "" || appSecret == "" {
		return false
	}
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}

	providedHex := strings.TrimPrefix(sig, "sha256=")
	provided, err := hex.DecodeString(providedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}

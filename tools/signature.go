package tools

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const SIGNATURE_HEADER = "X-Hub-Signature-256"

// SignBody returns the "sha256=<hex>" HMAC of body, the format expected in
// SIGNATURE_HEADER.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against body. The reason is
// meant for logs, never for the response.
func VerifySignature(secret, header string, body []byte) (bool, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return false, "missing " + SIGNATURE_HEADER
	}
	if !strings.HasPrefix(header, "sha256=") {
		return false, "invalid " + SIGNATURE_HEADER + " format"
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false, "invalid signature hex"
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return false, "signature mismatch"
	}
	return true, ""
}

package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verify checks header against an HMAC of the raw, unparsed body. A
// "sha256=" prefix is accepted.
func Verify(secret string, body []byte, header string) error {
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	if secret == "" || sig == "" {
		return ErrSignatureInvalid
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(given, computeMAC(secret, body)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the header value a sender would attach to body.
func Sign(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(computeMAC(secret, body))
}

func computeMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

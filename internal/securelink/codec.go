package securelink

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	tokenBytes = 32

	// sharePathPrefix is the fixed path segment of every shareable URL.
	sharePathPrefix = "/q/"

	qrEndpoint = "https://api.qrserver.com/v1/create-qr-code/"
	qrSize     = "300x300"
)

// GenerateToken returns a fresh high-entropy token and its sha256 hex digest.
// The token itself is the lookup key on the validation path; the digest is
// stored alongside it for a future digest-only verification path.
func GenerateToken() (token, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("securelink: generate token: %w", err)
	}
	token = hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

// ShareURL joins the configured base origin with the fixed path segment and
// the token.
func ShareURL(baseOrigin, token string) string {
	return strings.TrimRight(baseOrigin, "/") + sharePathPrefix + token
}

// QRURL builds a GET against the external QR renderer with the share URL
// percent-encoded as the data parameter. Purely generative, no state.
func QRURL(shareURL string) string {
	q := url.Values{}
	q.Set("size", qrSize)
	q.Set("data", shareURL)
	return qrEndpoint + "?" + q.Encode()
}

// TokenFromShareURL extracts the token from a shareable URL. Returns an
// empty string when the URL does not carry the fixed path segment.
func TokenFromShareURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(u.Path, sharePathPrefix) {
		return ""
	}
	token := strings.TrimPrefix(u.Path, sharePathPrefix)
	if strings.Contains(token, "/") {
		return ""
	}
	return token
}

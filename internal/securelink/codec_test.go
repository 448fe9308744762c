package securelink

import (
	"net/url"
	"regexp"
	"testing"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestGenerateToken(t *testing.T) {
	token, digest, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !hexToken.MatchString(token) {
		t.Fatalf("token is not 64 hex chars: %q", token)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(digest) {
		t.Fatalf("digest is not sha256 hex: %q", digest)
	}

	other, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if other == token {
		t.Fatal("two generated tokens collided")
	}
}

func TestShareURL(t *testing.T) {
	got := ShareURL("https://loanready.example.com/", "abc123")
	if got != "https://loanready.example.com/q/abc123" {
		t.Fatalf("unexpected share url: %s", got)
	}
}

func TestQRURLEncodesShareURL(t *testing.T) {
	share := ShareURL("https://loanready.example.com", "abc123")
	qr := QRURL(share)

	u, err := url.Parse(qr)
	if err != nil {
		t.Fatalf("parse qr url: %v", err)
	}
	if u.Host != "api.qrserver.com" {
		t.Fatalf("unexpected qr host: %s", u.Host)
	}
	q := u.Query()
	if q.Get("data") != share {
		t.Fatalf("data param did not round-trip: %q", q.Get("data"))
	}
	if q.Get("size") != "300x300" {
		t.Fatalf("unexpected size: %q", q.Get("size"))
	}
}

func TestTokenFromShareURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://loanready.example.com/q/abc123", "abc123"},
		{"https://loanready.example.com/other/abc123", ""},
		{"https://loanready.example.com/q/abc/extra", ""},
		{"://bad", ""},
	}
	for _, tc := range cases {
		if got := TokenFromShareURL(tc.in); got != tc.want {
			t.Fatalf("TokenFromShareURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

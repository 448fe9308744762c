package securelink

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionIssuer    = "caselink"
	sessionTTL       = 24 * time.Hour
	sessionSecretEnv = "CASELINK_SESSION_SECRET"
	sessionTokenType = "link_session"
)

var (
	errMissingSessionSecret = errors.New("securelink: session secret is not configured")

	sessionSecretMu sync.Mutex
	sessionSecret   cachedSessionSecret
)

type cachedSessionSecret struct {
	value []byte
	err   error
	ready bool
}

// Session is the decoded short-lived credential a validated holder carries
// for the rest of the visit instead of re-presenting the token.
type Session struct {
	CaseID     string
	LinkID     string
	AccessType AccessType
	CreatedAt  time.Time
}

type sessionClaims struct {
	CaseID     string `json:"case_id"`
	LinkID     string `json:"link_id"`
	AccessType string `json:"access_type"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

// IssueSession mints a tamper-evident credential for a freshly validated
// link. Call only after Validate returned a grant.
func IssueSession(caseID, linkID string, accessType AccessType) (string, error) {
	caseID = strings.TrimSpace(caseID)
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return "", errors.New("securelink: link id is required")
	}
	secret, err := loadSessionSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := sessionClaims{
		CaseID:     caseID,
		LinkID:     linkID,
		AccessType: string(accessType),
		TokenType:  sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseSession decodes and checks a session credential. It never returns an
// error: malformed input, a bad signature or an expired credential all read
// as "no session".
func ParseSession(raw string) (Session, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, false
	}
	secret, err := loadSessionSecret()
	if err != nil {
		return Session{}, false
	}

	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Session{}, false
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return Session{}, false
	}
	if claims.Issuer != sessionIssuer || claims.TokenType != sessionTokenType {
		return Session{}, false
	}
	if claims.LinkID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Session{}, false
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) || now.After(claims.IssuedAt.Time.Add(sessionTTL)) {
		return Session{}, false
	}
	return Session{
		CaseID:     claims.CaseID,
		LinkID:     claims.LinkID,
		AccessType: AccessType(claims.AccessType),
		CreatedAt:  claims.IssuedAt.Time,
	}, true
}

// SessionTTL is the fixed credential lifetime, exported for the cookie
// adapter at the HTTP boundary.
func SessionTTL() time.Duration { return sessionTTL }

func loadSessionSecret() ([]byte, error) {
	sessionSecretMu.Lock()
	defer sessionSecretMu.Unlock()
	if sessionSecret.ready {
		return sessionSecret.value, sessionSecret.err
	}
	raw := strings.TrimSpace(os.Getenv(sessionSecretEnv))
	if raw == "" {
		sessionSecret.err = errMissingSessionSecret
		sessionSecret.ready = true
		return nil, sessionSecret.err
	}
	sessionSecret.value = []byte(raw)
	sessionSecret.err = nil
	sessionSecret.ready = true
	return sessionSecret.value, nil
}

// ResetSessionSecretForTests clears the cached secret value. Only intended
// for test use.
func ResetSessionSecretForTests() {
	sessionSecretMu.Lock()
	defer sessionSecretMu.Unlock()
	sessionSecret = cachedSessionSecret{}
}

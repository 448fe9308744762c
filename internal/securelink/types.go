package securelink

import (
	"errors"
	"time"
)

// AccessType identifies the party role a link was issued for. The tag is
// carried through validation and into the session credential; downstream
// consumers decide what capability it maps to.
type AccessType string

const (
	AccessBuyer     AccessType = "buyer"
	AccessAgent     AccessType = "agent"
	AccessDeveloper AccessType = "developer"
	AccessAdmin     AccessType = "admin"
)

// Valid reports whether the access type is one of the known roles.
func (a AccessType) Valid() bool {
	switch a {
	case AccessBuyer, AccessAgent, AccessDeveloper, AccessAdmin:
		return true
	}
	return false
}

// Scope narrows what a validated holder may subsequently see.
type Scope string

const (
	ScopeFull      Scope = "full"
	ScopeView      Scope = "view"
	ScopeDocuments Scope = "documents"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeFull, ScopeView, ScopeDocuments:
		return true
	}
	return false
}

// Status is the lifecycle state of a link. Transitions are one-way: a link
// that leaves StatusActive never returns to it.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether the status permits no further accepted accesses.
func (s Status) Terminal() bool { return s != StatusActive }

// DenialReason classifies why a validation attempt was rejected.
type DenialReason string

const (
	DenialInvalid   DenialReason = "invalid"
	DenialExpired   DenialReason = "expired"
	DenialRevoked   DenialReason = "revoked"
	DenialExhausted DenialReason = "exhausted"
	DenialError     DenialReason = "error"
)

// SecureLink is an issued capability: a secret token bound to one loan case
// or one property project, with an expiry window and an optional use cap.
type SecureLink struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	TokenDigest string     `json:"token_digest"`
	CaseID      string     `json:"case_id,omitempty"`
	PropertyID  string     `json:"property_id,omitempty"`
	AccessType  AccessType `json:"access_type"`
	Scope       Scope      `json:"scope"`
	Status      Status     `json:"status"`

	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   *int      `json:"max_uses,omitempty"` // nil means unlimited
	UseCount  int       `json:"use_count"`

	FirstAccessedAt *time.Time `json:"first_accessed_at,omitempty"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`

	// Deduplicated fingerprints observed across accepted accesses. Bounded
	// informational history, not a security control.
	IPAddresses []string `json:"ip_addresses,omitempty"`
	UserAgents  []string `json:"user_agents,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedBy     string     `json:"revoked_by,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
}

// AccessLogEntry is one append-only audit row per validation attempt,
// accepted or rejected. LinkID is empty only for unknown-token attempts.
type AccessLogEntry struct {
	ID            string       `json:"id"`
	LinkID        string       `json:"link_id,omitempty"`
	IPAddress     string       `json:"ip_address,omitempty"`
	UserAgent     string       `json:"user_agent,omitempty"`
	Referer       string       `json:"referer,omitempty"`
	AccessGranted bool         `json:"access_granted"`
	DenialReason  DenialReason `json:"denial_reason,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// ClientMeta carries best-effort client metadata from the request into the
// validator and the audit trail.
type ClientMeta struct {
	IPAddress string
	UserAgent string
	Referer   string
}

// IssueRequest describes one link to issue. Exactly one of CaseID or
// PropertyID must be set.
type IssueRequest struct {
	CaseID     string     `json:"case_id,omitempty"`
	PropertyID string     `json:"property_id,omitempty"`
	CreatedBy  string     `json:"created_by"`
	AccessType AccessType `json:"access_type,omitempty"`
	Scope      Scope      `json:"scope,omitempty"`
	ExpiryDays int        `json:"expiry_days,omitempty"` // 0 means the default window
	MaxUses    *int       `json:"max_uses,omitempty"`    // nil means unlimited
}

// IssuedLink is the issuance result: the stored record plus the two URLs a
// caller shares out-of-band.
type IssuedLink struct {
	Link     *SecureLink `json:"link"`
	ShareURL string      `json:"share_url"`
	QRURL    string      `json:"qr_url"`
}

// BatchResult reports one item's outcome from IssueBatch. Err is nil on
// success; a failed item never aborts its siblings.
type BatchResult struct {
	Request IssueRequest `json:"request"`
	Issued  *IssuedLink  `json:"issued,omitempty"`
	Err     error        `json:"-"`
}

// ValidationResult is the fully-typed outcome of Validate. Rejections are
// ordinary values, never errors.
type ValidationResult struct {
	Granted    bool         `json:"granted"`
	Reason     DenialReason `json:"reason,omitempty"`
	LinkID     string       `json:"link_id,omitempty"`
	CaseID     string       `json:"case_id,omitempty"`
	PropertyID string       `json:"property_id,omitempty"`
	AccessType AccessType   `json:"access_type,omitempty"`
	Scope      Scope        `json:"scope,omitempty"`
}

var (
	ErrNotFound       = errors.New("securelink: not found")
	ErrInvalidCase    = errors.New("securelink: exactly one of case or property target is required")
	ErrTokenCollision = errors.New("securelink: token already exists")
	ErrExhausted      = errors.New("securelink: use cap reached")
)

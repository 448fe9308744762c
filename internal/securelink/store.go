package securelink

import (
	"context"
	"time"
)

// Store describes the persistence operations the subsystem requires of its
// relational collaborator. Nothing else is needed; keeping the surface
// narrow is what makes the validator testable with an in-memory fake.
type Store interface {
	// CreateLink inserts a freshly issued link. A uniqueness violation on
	// the token column is reported as ErrTokenCollision.
	CreateLink(ctx context.Context, link *SecureLink) error

	// FindLinkByToken fetches a link by exact token match, or ErrNotFound.
	FindLinkByToken(ctx context.Context, token string) (*SecureLink, error)

	// ConsumeLink records one accepted use in a single conditional update:
	// increments use_count, stamps first/last accessed, and merges the
	// client fingerprints. The update applies only while the link is
	// active and under its cap; ErrExhausted is returned when the guard
	// matched no row. The returned link reflects the post-update state.
	ConsumeLink(ctx context.Context, id string, now time.Time, meta ClientMeta) (*SecureLink, error)

	// MarkStatus flips an active link into the given terminal status,
	// stamping the revocation fields when status is StatusRevoked. Returns
	// false without error when the link was already non-active.
	MarkStatus(ctx context.Context, id string, status Status, at time.Time, revokedBy, reason string) (bool, error)

	// AppendAccessLog inserts one append-only audit row.
	AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error

	// ListLinksForResource returns links issued for a case or a property,
	// newest first. Exactly one of the identifiers is expected to be set.
	ListLinksForResource(ctx context.Context, caseID, propertyID string) ([]*SecureLink, error)
}

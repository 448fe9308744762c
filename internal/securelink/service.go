package securelink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caselink.org/internal/ids"
)

const (
	defaultExpiryDays   = 7
	defaultStoreTimeout = 5 * time.Second

	// A collision on 32 bytes of entropy is practically unreachable; one
	// retry with a fresh token is enough before giving up.
	issueRetries = 1
)

// Service issues, validates and revokes secure links against a Store.
// Every call is an independent request; the only cross-request invariant
// (use cap under concurrency) is enforced inside Store.ConsumeLink.
type Service struct {
	store        Store
	now          func() time.Time
	baseOrigin   string
	expiryDays   int
	storeTimeout time.Duration
	audit        *auditRecorder
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithBaseOrigin sets the origin used to build shareable URLs.
func WithBaseOrigin(origin string) ServiceOption {
	return func(s *Service) {
		if strings.TrimSpace(origin) != "" {
			s.baseOrigin = strings.TrimSpace(origin)
		}
	}
}

// WithDefaultExpiry overrides the default expiry window in days.
func WithDefaultExpiry(days int) ServiceOption {
	return func(s *Service) {
		if days > 0 {
			s.expiryDays = days
		}
	}
}

// WithStoreTimeout bounds every store call issued by the service.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithAsyncAudit makes access-log writes go through a buffered background
// worker so the validation result never waits on audit latency. Call
// Close on shutdown to drain the buffer.
func WithAsyncAudit(buffer int) ServiceOption {
	return func(s *Service) {
		s.audit.start(buffer)
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		now:          time.Now,
		baseOrigin:   "http://localhost:8080",
		expiryDays:   defaultExpiryDays,
		storeTimeout: defaultStoreTimeout,
	}
	s.audit = newAuditRecorder(store, s.storeTimeout)
	for _, opt := range opts {
		opt(s)
	}
	s.audit.timeout = s.storeTimeout
	return s
}

// Close drains the async audit worker, if one was started.
func (s *Service) Close() { s.audit.close() }

// Issue creates a new link for exactly one case or property and returns the
// stored record with its shareable and QR URLs.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssuedLink, error) {
	link, err := s.buildLink(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err = s.store.CreateLink(cctx, link)
		cancel()
		if err == nil {
			break
		}
		if errors.Is(err, ErrTokenCollision) && attempt < issueRetries {
			token, digest, genErr := GenerateToken()
			if genErr != nil {
				return nil, genErr
			}
			link.Token = token
			link.TokenDigest = digest
			continue
		}
		if errors.Is(err, ErrTokenCollision) {
			return nil, err
		}
		return nil, fmt.Errorf("securelink: create link: %w", err)
	}

	share := ShareURL(s.baseOrigin, link.Token)
	return &IssuedLink{Link: link, ShareURL: share, QRURL: QRURL(share)}, nil
}

// IssueBatch issues many links independently. A failed item carries its own
// error and never aborts the rest.
func (s *Service) IssueBatch(ctx context.Context, reqs []IssueRequest) []BatchResult {
	results := make([]BatchResult, 0, len(reqs))
	for _, req := range reqs {
		issued, err := s.Issue(ctx, req)
		results = append(results, BatchResult{Request: req, Issued: issued, Err: err})
	}
	return results
}

func (s *Service) buildLink(req IssueRequest) (*SecureLink, error) {
	caseID := strings.TrimSpace(req.CaseID)
	propertyID := strings.TrimSpace(req.PropertyID)
	if (caseID == "") == (propertyID == "") {
		return nil, ErrInvalidCase
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalidCase)
	}

	accessType := req.AccessType
	if accessType == "" {
		accessType = AccessBuyer
	}
	if !accessType.Valid() {
		return nil, fmt.Errorf("%w: unknown access type %q", ErrInvalidCase, req.AccessType)
	}
	scope := req.Scope
	if scope == "" {
		scope = ScopeFull
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidCase, req.Scope)
	}

	expiryDays := req.ExpiryDays
	if expiryDays == 0 {
		expiryDays = s.expiryDays
	}
	if expiryDays < 0 {
		return nil, fmt.Errorf("%w: expiry_days must be positive", ErrInvalidCase)
	}
	if req.MaxUses != nil && *req.MaxUses <= 0 {
		return nil, fmt.Errorf("%w: max_uses must be positive", ErrInvalidCase)
	}
	var maxUses *int
	if req.MaxUses != nil {
		v := *req.MaxUses
		maxUses = &v
	}

	token, digest, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return &SecureLink{
		ID:          ids.New(),
		Token:       token,
		TokenDigest: digest,
		CaseID:      caseID,
		PropertyID:  propertyID,
		AccessType:  accessType,
		Scope:       scope,
		Status:      StatusActive,
		ExpiresAt:   now.AddDate(0, 0, expiryDays),
		MaxUses:     maxUses,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}, nil
}

// Validate resolves a presented token into a grant or a classified denial.
// Checks run in strict order: lookup, status gate, expiry, conditional
// consume. Store failures fail closed as the error reason; every attempt is
// logged best-effort whatever the outcome.
func (s *Service) Validate(ctx context.Context, token string, meta ClientMeta) ValidationResult {
	now := s.now().UTC()

	token = strings.TrimSpace(token)
	if token == "" {
		return s.deny(meta, "", DenialInvalid, now)
	}

	link, err := s.findLink(ctx, token)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.deny(meta, "", DenialInvalid, now)
	case err != nil:
		return s.deny(meta, "", DenialError, now)
	}

	// Terminal statuses short-circuit with no mutation.
	if link.Status.Terminal() {
		return s.deny(meta, link.ID, DenialReason(link.Status), now)
	}

	if !now.Before(link.ExpiresAt) {
		if err := s.markStatus(ctx, link.ID, StatusExpired, now); err != nil {
			return s.deny(meta, link.ID, DenialError, now)
		}
		return s.deny(meta, link.ID, DenialExpired, now)
	}

	updated, err := s.consume(ctx, link.ID, now, meta)
	switch {
	case errors.Is(err, ErrExhausted):
		if err := s.markStatus(ctx, link.ID, StatusExhausted, now); err != nil {
			return s.deny(meta, link.ID, DenialError, now)
		}
		return s.deny(meta, link.ID, DenialExhausted, now)
	case err != nil:
		return s.deny(meta, link.ID, DenialError, now)
	}

	s.audit.record(&AccessLogEntry{
		LinkID:        updated.ID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Referer:       meta.Referer,
		AccessGranted: true,
		OccurredAt:    now,
	})

	return ValidationResult{
		Granted:    true,
		LinkID:     updated.ID,
		CaseID:     updated.CaseID,
		PropertyID: updated.PropertyID,
		AccessType: updated.AccessType,
		Scope:      updated.Scope,
	}
}

// Revoke flips an active link to revoked. Returns false without error when
// the link is already in a terminal state; the original terminal status and
// its timestamp are left untouched.
func (s *Service) Revoke(ctx context.Context, linkID, revokedBy, reason string) (bool, error) {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return false, fmt.Errorf("%w: link id is required", ErrInvalidCase)
	}
	revokedBy = strings.TrimSpace(revokedBy)
	if revokedBy == "" {
		return false, fmt.Errorf("%w: revoked_by is required", ErrInvalidCase)
	}

	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	ok, err := s.store.MarkStatus(cctx, linkID, StatusRevoked, s.now().UTC(), revokedBy, strings.TrimSpace(reason))
	if err != nil {
		return false, fmt.Errorf("securelink: revoke: %w", err)
	}
	return ok, nil
}

// ListLinks returns the links issued for one case or one property.
func (s *Service) ListLinks(ctx context.Context, caseID, propertyID string) ([]*SecureLink, error) {
	caseID = strings.TrimSpace(caseID)
	propertyID = strings.TrimSpace(propertyID)
	if (caseID == "") == (propertyID == "") {
		return nil, ErrInvalidCase
	}
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	links, err := s.store.ListLinksForResource(cctx, caseID, propertyID)
	if err != nil {
		return nil, fmt.Errorf("securelink: list links: %w", err)
	}
	return links, nil
}

func (s *Service) findLink(ctx context.Context, token string) (*SecureLink, error) {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.FindLinkByToken(cctx, token)
}

func (s *Service) consume(ctx context.Context, id string, now time.Time, meta ClientMeta) (*SecureLink, error) {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.ConsumeLink(cctx, id, now, meta)
}

// markStatus applies a terminal flip guarded on the link still being
// active. Losing the race to another request is harmless: the flip is
// idempotent and a false return is not an error here.
func (s *Service) markStatus(ctx context.Context, id string, status Status, now time.Time) error {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	_, err := s.store.MarkStatus(cctx, id, status, now, "", "")
	return err
}

func (s *Service) deny(meta ClientMeta, linkID string, reason DenialReason, now time.Time) ValidationResult {
	s.audit.record(&AccessLogEntry{
		LinkID:        linkID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Referer:       meta.Referer,
		AccessGranted: false,
		DenialReason:  reason,
		OccurredAt:    now,
	})
	return ValidationResult{Granted: false, Reason: reason, LinkID: linkID}
}

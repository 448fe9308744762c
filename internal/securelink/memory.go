package securelink

import (
	"context"
	"slices"
	"sync"
	"time"

	"caselink.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory is a Store for development runs and tests. It honors the same
// guard semantics as the Postgres implementation, with a single mutex
// standing in for the row-level conditional update.
type InMemory struct {
	mu      sync.Mutex
	links   map[string]*SecureLink // by id
	byToken map[string]string      // token -> id
	logs    []*AccessLogEntry
}

func NewInMemory() *InMemory {
	return &InMemory{
		links:   make(map[string]*SecureLink),
		byToken: make(map[string]string),
	}
}

func (m *InMemory) CreateLink(ctx context.Context, link *SecureLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byToken[link.Token]; exists {
		return ErrTokenCollision
	}
	if link.ID == "" {
		link.ID = ids.New()
	}
	cp := cloneLink(link)
	m.links[cp.ID] = cp
	m.byToken[cp.Token] = cp.ID
	return nil
}

func (m *InMemory) FindLinkByToken(ctx context.Context, token string) (*SecureLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLink(m.links[id]), nil
}

func (m *InMemory) ConsumeLink(ctx context.Context, id string, now time.Time, meta ClientMeta) (*SecureLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok {
		return nil, ErrExhausted
	}
	if link.Status != StatusActive {
		return nil, ErrExhausted
	}
	if link.MaxUses != nil && link.UseCount >= *link.MaxUses {
		return nil, ErrExhausted
	}
	link.UseCount++
	if link.FirstAccessedAt == nil {
		t := now
		link.FirstAccessedAt = &t
	}
	t := now
	link.LastAccessedAt = &t
	link.IPAddresses = mergeFingerprint(link.IPAddresses, meta.IPAddress)
	link.UserAgents = mergeFingerprint(link.UserAgents, meta.UserAgent)
	return cloneLink(link), nil
}

func (m *InMemory) MarkStatus(ctx context.Context, id string, status Status, at time.Time, revokedBy, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok || link.Status != StatusActive {
		return false, nil
	}
	link.Status = status
	if status == StatusRevoked {
		t := at
		link.RevokedAt = &t
		link.RevokedBy = revokedBy
		link.RevokedReason = reason
	}
	return true, nil
}

func (m *InMemory) AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *InMemory) ListLinksForResource(ctx context.Context, caseID, propertyID string) ([]*SecureLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SecureLink
	for _, link := range m.links {
		if (caseID != "" && link.CaseID == caseID) || (propertyID != "" && link.PropertyID == propertyID) {
			out = append(out, cloneLink(link))
		}
	}
	slices.SortFunc(out, func(a, b *SecureLink) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// AccessLogs returns a snapshot of the recorded audit rows, oldest first.
func (m *InMemory) AccessLogs() []*AccessLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AccessLogEntry, len(m.logs))
	for i, e := range m.logs {
		cp := *e
		out[i] = &cp
	}
	return out
}

func mergeFingerprint(set []string, value string) []string {
	if value == "" || len(set) >= fingerprintCap || slices.Contains(set, value) {
		return set
	}
	return append(set, value)
}

func cloneLink(link *SecureLink) *SecureLink {
	cp := *link
	if link.MaxUses != nil {
		v := *link.MaxUses
		cp.MaxUses = &v
	}
	if link.FirstAccessedAt != nil {
		t := *link.FirstAccessedAt
		cp.FirstAccessedAt = &t
	}
	if link.LastAccessedAt != nil {
		t := *link.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if link.RevokedAt != nil {
		t := *link.RevokedAt
		cp.RevokedAt = &t
	}
	cp.IPAddresses = slices.Clone(link.IPAddresses)
	cp.UserAgents = slices.Clone(link.UserAgents)
	return &cp
}

package securelink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"caselink.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// fingerprintCap bounds the informational IP/user-agent history kept on a
// link row.
const fingerprintCap = 20

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const linkColumns = `id, token, token_digest, case_id, property_id, access_type, scope, status,
	expires_at, max_uses, use_count, first_accessed_at, last_accessed_at,
	ip_addresses, user_agents, created_by, created_at, revoked_at, revoked_by, revoked_reason`

func (s *PGStore) CreateLink(ctx context.Context, link *SecureLink) error {
	if link.ID == "" {
		link.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into secure_links(id, token, token_digest, case_id, property_id, access_type, scope, status,
		    expires_at, max_uses, use_count, created_by, created_at)
		 values($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,$8,$9,$10,$11,$12,$13)`,
		link.ID, link.Token, link.TokenDigest, link.CaseID, link.PropertyID,
		link.AccessType, link.Scope, link.Status, link.ExpiresAt, link.MaxUses,
		link.UseCount, link.CreatedBy, link.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrTokenCollision
		}
		return err
	}
	return nil
}

func (s *PGStore) FindLinkByToken(ctx context.Context, token string) (*SecureLink, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+linkColumns+` from secure_links where token=$1`, token)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return link, err
}

// ConsumeLink is the subsystem's critical section: the cap check and the
// increment happen in one conditional statement so that at most max_uses
// accepted updates can ever commit, whatever the concurrency. Zero rows
// affected means the guard failed and the attempt must be rejected.
func (s *PGStore) ConsumeLink(ctx context.Context, id string, now time.Time, meta ClientMeta) (*SecureLink, error) {
	row := s.db.QueryRowContext(ctx, `
		update secure_links set
			use_count = use_count + 1,
			first_accessed_at = coalesce(first_accessed_at, $2),
			last_accessed_at = $2,
			ip_addresses = case
				when $3 = '' or ip_addresses @> to_jsonb($3::text) or jsonb_array_length(ip_addresses) >= $5
					then ip_addresses
				else ip_addresses || to_jsonb($3::text)
			end,
			user_agents = case
				when $4 = '' or user_agents @> to_jsonb($4::text) or jsonb_array_length(user_agents) >= $5
					then user_agents
				else user_agents || to_jsonb($4::text)
			end
		where id = $1
		  and status = 'active'
		  and (max_uses is null or use_count < max_uses)
		returning `+linkColumns,
		id, now, meta.IPAddress, meta.UserAgent, fingerprintCap,
	)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExhausted
	}
	return link, err
}

func (s *PGStore) MarkStatus(ctx context.Context, id string, status Status, at time.Time, revokedBy, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update secure_links set
			status = $2,
			revoked_at = case when $2 = 'revoked' then $3 else revoked_at end,
			revoked_by = case when $2 = 'revoked' then nullif($4,'') else revoked_by end,
			revoked_reason = case when $2 = 'revoked' then nullif($5,'') else revoked_reason end
		where id = $1 and status = 'active'`,
		id, status, at, revokedBy, reason,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PGStore) AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into link_access_logs(id, link_id, ip_address, user_agent, referer, access_granted, denial_reason, occurred_at)
		 values($1,nullif($2,''),nullif($3,''),nullif($4,''),nullif($5,''),$6,nullif($7,''),$8)`,
		entry.ID, entry.LinkID, entry.IPAddress, entry.UserAgent, entry.Referer,
		entry.AccessGranted, string(entry.DenialReason), entry.OccurredAt,
	)
	return err
}

func (s *PGStore) ListLinksForResource(ctx context.Context, caseID, propertyID string) ([]*SecureLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+linkColumns+` from secure_links
		 where ($1 <> '' and case_id = $1) or ($2 <> '' and property_id = $2)
		 order by created_at desc`,
		caseID, propertyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*SecureLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*SecureLink, error) {
	var (
		link          SecureLink
		caseID        sql.NullString
		propertyID    sql.NullString
		maxUses       sql.NullInt64
		firstAccessed sql.NullTime
		lastAccessed  sql.NullTime
		ipAddresses   []byte
		userAgents    []byte
		revokedAt     sql.NullTime
		revokedBy     sql.NullString
		revokedReason sql.NullString
	)
	err := row.Scan(
		&link.ID, &link.Token, &link.TokenDigest, &caseID, &propertyID,
		&link.AccessType, &link.Scope, &link.Status, &link.ExpiresAt,
		&maxUses, &link.UseCount, &firstAccessed, &lastAccessed,
		&ipAddresses, &userAgents, &link.CreatedBy, &link.CreatedAt,
		&revokedAt, &revokedBy, &revokedReason,
	)
	if err != nil {
		return nil, err
	}
	link.CaseID = caseID.String
	link.PropertyID = propertyID.String
	if maxUses.Valid {
		v := int(maxUses.Int64)
		link.MaxUses = &v
	}
	if firstAccessed.Valid {
		t := firstAccessed.Time
		link.FirstAccessedAt = &t
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		link.LastAccessedAt = &t
	}
	if len(ipAddresses) > 0 {
		if err := json.Unmarshal(ipAddresses, &link.IPAddresses); err != nil {
			return nil, fmt.Errorf("decode ip_addresses: %w", err)
		}
	}
	if len(userAgents) > 0 {
		if err := json.Unmarshal(userAgents, &link.UserAgents); err != nil {
			return nil, fmt.Errorf("decode user_agents: %w", err)
		}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		link.RevokedAt = &t
	}
	link.RevokedBy = revokedBy.String
	link.RevokedReason = revokedReason.String
	return &link, nil
}

package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"caselink.org/internal/audit"
	"caselink.org/internal/obs"
	"caselink.org/internal/securelink"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	timeFormat = time.RFC3339
)

// withAdminAuth guards the administrative link endpoints with the shared
// admin bearer token. Without a configured token the endpoints are disabled
// outright rather than left open.
func (a *API) withAdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			writeError(w, r, http.StatusServiceUnavailable, "administrative API is not configured")
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

type issueLinkRequest struct {
	CaseID     string `json:"case_id,omitempty"`
	PropertyID string `json:"property_id,omitempty"`
	CreatedBy  string `json:"created_by"`
	AccessType string `json:"access_type,omitempty"`
	Scope      string `json:"scope,omitempty"`
	ExpiryDays int    `json:"expiry_days,omitempty"`
	MaxUses    *int   `json:"max_uses,omitempty"`
}

func (r issueLinkRequest) toServiceRequest() securelink.IssueRequest {
	return securelink.IssueRequest{
		CaseID:     r.CaseID,
		PropertyID: r.PropertyID,
		CreatedBy:  r.CreatedBy,
		AccessType: securelink.AccessType(r.AccessType),
		Scope:      securelink.Scope(r.Scope),
		ExpiryDays: r.ExpiryDays,
		MaxUses:    r.MaxUses,
	}
}

func (a *API) handleIssueLink(w http.ResponseWriter, r *http.Request) {
	var req issueLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	issued, err := a.links.Issue(r.Context(), req.toServiceRequest())
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	obs.ObserveIssued(string(issued.Link.AccessType))
	_ = audit.LogEvent(r.Context(), "securelink.issued", map[string]any{
		"link_id":     issued.Link.ID,
		"case_id":     issued.Link.CaseID,
		"property_id": issued.Link.PropertyID,
		"access_type": string(issued.Link.AccessType),
		"scope":       string(issued.Link.Scope),
		"created_by":  issued.Link.CreatedBy,
		"expires_at":  issued.Link.ExpiresAt,
	})

	writeJSON(w, http.StatusCreated, sanitizeIssued(issued))
}

type batchIssueRequest struct {
	Items []issueLinkRequest `json:"items"`
}

type batchItemResponse struct {
	Issued *issuedLinkResponse `json:"issued,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func (a *API) handleIssueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchIssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "items are required")
		return
	}
	if len(req.Items) > 100 {
		writeError(w, r, http.StatusBadRequest, "at most 100 items per batch")
		return
	}

	reqs := make([]securelink.IssueRequest, 0, len(req.Items))
	for _, item := range req.Items {
		reqs = append(reqs, item.toServiceRequest())
	}

	results := a.links.IssueBatch(r.Context(), reqs)
	items := make([]batchItemResponse, 0, len(results))
	succeeded := 0
	for _, res := range results {
		if res.Err != nil {
			items = append(items, batchItemResponse{Error: res.Err.Error()})
			continue
		}
		obs.ObserveIssued(string(res.Issued.Link.AccessType))
		items = append(items, batchItemResponse{Issued: sanitizeIssued(res.Issued)})
		succeeded++
	}

	_ = audit.LogEvent(r.Context(), "securelink.batch_issued", map[string]any{
		"requested": len(results),
		"succeeded": succeeded,
	})

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleListLinks(w http.ResponseWriter, r *http.Request) {
	caseID := strings.TrimSpace(r.URL.Query().Get("case_id"))
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))

	links, err := a.links.ListLinks(r.Context(), caseID, propertyID)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	items := make([]*linkResponse, 0, len(links))
	for _, link := range links {
		items = append(items, sanitizeLink(link))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type revokeRequest struct {
	RevokedBy string `json:"revoked_by"`
	Reason    string `json:"reason,omitempty"`
}

func (a *API) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	linkID := r.PathValue("id")

	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	revoked, err := a.links.Revoke(r.Context(), linkID, req.RevokedBy, req.Reason)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	if revoked {
		obs.ObserveRevoked()
		_ = audit.LogEvent(r.Context(), "securelink.revoked", map[string]any{
			"link_id":    linkID,
			"revoked_by": req.RevokedBy,
			"reason":     req.Reason,
		})
	}

	// An already-terminal link is reported, not failed: the caller's goal
	// (link no longer usable) already holds.
	writeJSON(w, http.StatusOK, map[string]any{
		"link_id": linkID,
		"revoked": revoked,
	})
}

// linkResponse is the admin-facing view of a link. The raw token and its
// digest never leave the issuance response.
type linkResponse struct {
	ID              string   `json:"id"`
	CaseID          string   `json:"case_id,omitempty"`
	PropertyID      string   `json:"property_id,omitempty"`
	AccessType      string   `json:"access_type"`
	Scope           string   `json:"scope"`
	Status          string   `json:"status"`
	ExpiresAt       string   `json:"expires_at"`
	MaxUses         *int     `json:"max_uses,omitempty"`
	UseCount        int      `json:"use_count"`
	FirstAccessedAt string   `json:"first_accessed_at,omitempty"`
	LastAccessedAt  string   `json:"last_accessed_at,omitempty"`
	IPAddresses     []string `json:"ip_addresses,omitempty"`
	UserAgents      []string `json:"user_agents,omitempty"`
	CreatedBy       string   `json:"created_by"`
	CreatedAt       string   `json:"created_at"`
	RevokedAt       string   `json:"revoked_at,omitempty"`
	RevokedBy       string   `json:"revoked_by,omitempty"`
	RevokedReason   string   `json:"revoked_reason,omitempty"`
}

type issuedLinkResponse struct {
	Link     *linkResponse `json:"link"`
	ShareURL string        `json:"share_url"`
	QRURL    string        `json:"qr_url"`
}

func sanitizeLink(link *securelink.SecureLink) *linkResponse {
	resp := &linkResponse{
		ID:            link.ID,
		CaseID:        link.CaseID,
		PropertyID:    link.PropertyID,
		AccessType:    string(link.AccessType),
		Scope:         string(link.Scope),
		Status:        string(link.Status),
		ExpiresAt:     link.ExpiresAt.Format(timeFormat),
		MaxUses:       link.MaxUses,
		UseCount:      link.UseCount,
		IPAddresses:   link.IPAddresses,
		UserAgents:    link.UserAgents,
		CreatedBy:     link.CreatedBy,
		CreatedAt:     link.CreatedAt.Format(timeFormat),
		RevokedBy:     link.RevokedBy,
		RevokedReason: link.RevokedReason,
	}
	if link.FirstAccessedAt != nil {
		resp.FirstAccessedAt = link.FirstAccessedAt.Format(timeFormat)
	}
	if link.LastAccessedAt != nil {
		resp.LastAccessedAt = link.LastAccessedAt.Format(timeFormat)
	}
	if link.RevokedAt != nil {
		resp.RevokedAt = link.RevokedAt.Format(timeFormat)
	}
	return resp
}

func sanitizeIssued(issued *securelink.IssuedLink) *issuedLinkResponse {
	return &issuedLinkResponse{
		Link:     sanitizeLink(issued.Link),
		ShareURL: issued.ShareURL,
		QRURL:    issued.QRURL,
	}
}

func handleLinkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, securelink.ErrInvalidCase):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, securelink.ErrTokenCollision):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, securelink.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func (c *apiClient) sharePath(issued map[string]any) string {
	c.t.Helper()
	share, _ := issued["share_url"].(string)
	i := strings.Index(share, "/q/")
	if i < 0 {
		c.t.Fatalf("share url missing /q/ path: %q", share)
	}
	return share[i:]
}

func TestValidateGrantsAndSetsSessionCookie(t *testing.T) {
	c := newTestAPI(t)
	issued := c.issueLink(map[string]any{
		"case_id":     "case-1",
		"created_by":  "dev-7",
		"access_type": "agent",
	})

	resp := c.get(c.sharePath(issued), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cookieSet bool
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName && ck.Value != "" && ck.HttpOnly {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Fatal("expected an HttpOnly session cookie on grant")
	}
	body := decodeBody(t, resp)
	if body["granted"] != true || body["case_id"] != "case-1" || body["access_type"] != "agent" {
		t.Fatalf("unexpected grant payload: %v", body)
	}

	// The cookie jar now carries the credential; the session endpoint
	// should recognize it.
	resp = c.get("/v1/session", nil, nil)
	sess := decodeBody(t, resp)
	if sess["active"] != true || sess["case_id"] != "case-1" {
		t.Fatalf("expected active session for case-1, got %v", sess)
	}
}

func TestValidateUnknownTokenIs404(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/q/"+strings.Repeat("0", 64), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["granted"] != false || body["reason"] != "invalid" {
		t.Fatalf("unexpected denial payload: %v", body)
	}
}

func TestValidateDenialMessageLocalization(t *testing.T) {
	c := newTestAPI(t)
	path := "/q/" + strings.Repeat("0", 64)

	resp := c.get(path, url.Values{"lang": {"ms"}}, nil)
	body := decodeBody(t, resp)
	msMsg, _ := body["message"].(string)

	resp = c.get(path, nil, map[string]string{"Accept-Language": "en-US,en;q=0.9"})
	enBody := decodeBody(t, resp)
	enMsg, _ := enBody["message"].(string)

	if msMsg == "" || enMsg == "" {
		t.Fatalf("expected localized messages, got ms=%q en=%q", msMsg, enMsg)
	}
	if msMsg == enMsg {
		t.Fatalf("expected distinct translations, both were %q", enMsg)
	}
}

func TestValidateRevokedLinkIs410(t *testing.T) {
	c := newTestAPI(t)
	issued := c.issueLink(map[string]any{"case_id": "case-1", "created_by": "dev-7"})
	link, _ := issued["link"].(map[string]any)
	linkID, _ := link["id"].(string)

	resp := c.postAdmin("/v1/links/"+linkID+"/revoke", map[string]any{"revoked_by": "admin-1"})
	resp.Body.Close()

	resp = c.get(c.sharePath(issued), nil, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 for revoked link, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["reason"] != "revoked" {
		t.Fatalf("expected revoked reason, got %v", body)
	}
}

func TestValidateExhaustedLinkIs410(t *testing.T) {
	c := newTestAPI(t)
	issued := c.issueLink(map[string]any{
		"case_id":    "case-1",
		"created_by": "dev-7",
		"max_uses":   1,
	})
	path := c.sharePath(issued)

	resp := c.get(path, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first use should grant, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get(path, nil, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 once the cap is spent, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["reason"] != "exhausted" {
		t.Fatalf("expected exhausted reason, got %v", body)
	}
}

func TestClearSessionExpiresCookie(t *testing.T) {
	c := newTestAPI(t)
	issued := c.issueLink(map[string]any{"case_id": "case-1", "created_by": "dev-7"})
	resp := c.get(c.sharePath(issued), nil, nil)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/session", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cleared bool
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName && ck.MaxAge < 0 {
			cleared = true
		}
	}
	resp.Body.Close()
	if !cleared {
		t.Fatal("expected the session cookie to be expired")
	}

	resp = c.get("/v1/session", nil, nil)
	sess := decodeBody(t, resp)
	if sess["active"] != false {
		t.Fatalf("expected inactive session after clear, got %v", sess)
	}
}

func TestSessionWithoutCookie(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/session", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["active"] != false {
		t.Fatalf("expected inactive session, got %v", body)
	}
}

package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestIssueLinkRequiresAdminToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/links", map[string]any{
		"case_id": "case-1", "created_by": "dev-7",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/links", map[string]any{
		"case_id": "case-1", "created_by": "dev-7",
	}, map[string]string{"Authorization": "Bearer wrong"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}
}

func TestIssueLinkReturnsShareAndQRURLs(t *testing.T) {
	c := newTestAPI(t)

	body := c.issueLink(map[string]any{
		"case_id":     "case-1",
		"created_by":  "dev-7",
		"access_type": "agent",
		"scope":       "documents",
		"max_uses":    5,
	})

	share, _ := body["share_url"].(string)
	if !strings.Contains(share, "/q/") {
		t.Fatalf("share url missing token path: %q", share)
	}
	qr, _ := body["qr_url"].(string)
	if !strings.Contains(qr, url.QueryEscape(share)) {
		t.Fatalf("qr url does not embed the share url: %q", qr)
	}
	link, _ := body["link"].(map[string]any)
	if link["access_type"] != "agent" || link["scope"] != "documents" {
		t.Fatalf("unexpected link payload: %v", link)
	}
	if _, present := link["token"]; present {
		t.Fatal("admin link payload must not expose the raw token")
	}
}

func TestIssueLinkValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.postAdmin("/v1/links", map[string]any{"created_by": "dev-7"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing target, got %d", resp.StatusCode)
	}
}

func TestIssueBatchReportsPerItemOutcomes(t *testing.T) {
	c := newTestAPI(t)

	resp := c.postAdmin("/v1/links/batch", map[string]any{
		"items": []map[string]any{
			{"case_id": "case-1", "created_by": "dev-7"},
			{"created_by": "dev-7"},
			{"property_id": "prop-2", "created_by": "dev-7"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["issued"] == nil || first["error"] != nil {
		t.Fatalf("first item should succeed: %v", first)
	}
	second, _ := items[1].(map[string]any)
	if second["error"] == nil {
		t.Fatalf("second item should carry its error: %v", second)
	}
	third, _ := items[2].(map[string]any)
	if third["issued"] == nil {
		t.Fatalf("third item should succeed despite the second failing: %v", third)
	}
}

func TestListLinksForCase(t *testing.T) {
	c := newTestAPI(t)
	c.issueLink(map[string]any{"case_id": "case-1", "created_by": "dev-7"})
	c.issueLink(map[string]any{"case_id": "case-1", "created_by": "dev-7"})
	c.issueLink(map[string]any{"case_id": "case-2", "created_by": "dev-7"})

	resp := c.get("/v1/links", url.Values{"case_id": {"case-1"}}, map[string]string{
		"Authorization": "Bearer " + testAdminToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 links for case-1, got %d", len(items))
	}
}

func TestListLinksRequiresExactlyOneResource(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/links", nil, map[string]string{
		"Authorization": "Bearer " + testAdminToken,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without resource filter, got %d", resp.StatusCode)
	}
}

func TestRevokeLinkFlow(t *testing.T) {
	c := newTestAPI(t)
	body := c.issueLink(map[string]any{"case_id": "case-1", "created_by": "dev-7"})
	link, _ := body["link"].(map[string]any)
	linkID, _ := link["id"].(string)

	resp := c.postAdmin("/v1/links/"+linkID+"/revoke", map[string]any{
		"revoked_by": "admin-1",
		"reason":     "fraud",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeBody(t, resp)
	if out["revoked"] != true {
		t.Fatalf("expected revoked=true, got %v", out)
	}

	// Second revocation is a reported no-op, not an error.
	resp = c.postAdmin("/v1/links/"+linkID+"/revoke", map[string]any{
		"revoked_by": "admin-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", resp.StatusCode)
	}
	out = decodeBody(t, resp)
	if out["revoked"] != false {
		t.Fatalf("expected revoked=false on repeat, got %v", out)
	}
}

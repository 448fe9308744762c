package httpapi

import (
	"net/http"
	"strings"

	"caselink.org/internal/obs"
	"caselink.org/internal/securelink"
)

const sessionCookieName = "caselink_session"

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	meta := securelink.ClientMeta{
		IPAddress: clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		Referer:   r.Header.Get("Referer"),
	}

	res := a.links.Validate(r.Context(), token, meta)
	if !res.Granted {
		obs.ObserveValidation(string(res.Reason))
		writeJSON(w, denialStatus(res.Reason), map[string]any{
			"granted": false,
			"reason":  string(res.Reason),
			"message": securelink.DenialMessage(requestLang(r), res.Reason),
		})
		return
	}
	obs.ObserveValidation("granted")

	credential, err := securelink.IssueSession(res.CaseID, res.LinkID, res.AccessType)
	if err != nil {
		// The grant already happened and was audited; a session failure
		// only means the holder re-presents the token next time.
		writeError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	a.setSessionCookie(w, credential)

	writeJSON(w, http.StatusOK, map[string]any{
		"granted":     true,
		"case_id":     res.CaseID,
		"property_id": res.PropertyID,
		"access_type": string(res.AccessType),
		"scope":       string(res.Scope),
	})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	sess, ok := securelink.ParseSession(cookie.Value)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":      true,
		"case_id":     sess.CaseID,
		"link_id":     sess.LinkID,
		"access_type": string(sess.AccessType),
		"created_at":  sess.CreatedAt.Format(timeFormat),
	})
}

func (a *API) handleClearSession(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"active": false})
}

// setSessionCookie is the boundary adapter: the credential itself is minted
// by the securelink package, the cookie plumbing stays here.
func (a *API) setSessionCookie(w http.ResponseWriter, credential string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    credential,
		Path:     "/",
		MaxAge:   int(securelink.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})
}

func denialStatus(reason securelink.DenialReason) int {
	switch reason {
	case securelink.DenialInvalid:
		return http.StatusNotFound
	case securelink.DenialExpired, securelink.DenialRevoked, securelink.DenialExhausted:
		return http.StatusGone
	default:
		return http.StatusServiceUnavailable
	}
}

// requestLang picks the UI language: explicit lang query wins, then the
// first Accept-Language tag.
func requestLang(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	return r.Header.Get("Accept-Language")
}

package securelink

import "strings"

// Denial messages surfaced to end users, keyed by the same enum the audit
// trail records. The enum is the contract; these strings are presentation.
var denialMessages = map[string]map[DenialReason]string{
	"en": {
		DenialInvalid:   "This link is not valid. Please check the address or ask for a new link.",
		DenialExpired:   "This link has expired. Please request a new link.",
		DenialRevoked:   "This link has been revoked by the issuer and can no longer be used.",
		DenialExhausted: "This link has reached its usage limit. Please request a new link.",
		DenialError:     "We could not verify this link right now. Please try again shortly.",
	},
	"ms": {
		DenialInvalid:   "Pautan ini tidak sah. Sila semak alamat atau minta pautan baharu.",
		DenialExpired:   "Pautan ini telah tamat tempoh. Sila minta pautan baharu.",
		DenialRevoked:   "Pautan ini telah dibatalkan oleh pengeluar dan tidak boleh digunakan lagi.",
		DenialExhausted: "Pautan ini telah mencapai had penggunaan. Sila minta pautan baharu.",
		DenialError:     "Kami tidak dapat mengesahkan pautan ini buat masa ini. Sila cuba sebentar lagi.",
	},
}

// DenialMessage returns the localized explanation for a denial reason.
// Unknown languages fall back to English; unknown reasons map to the
// generic error message.
func DenialMessage(lang string, reason DenialReason) string {
	table, ok := denialMessages[normalizeLang(lang)]
	if !ok {
		table = denialMessages["en"]
	}
	if msg, ok := table[reason]; ok {
		return msg
	}
	return table[DenialError]
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	// Accept-Language values such as "ms-MY" or "en-GB;q=0.9".
	if i := strings.IndexAny(lang, "-_;,"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

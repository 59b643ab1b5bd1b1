package router

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ExtractIdentity derives the per-identity key the identity-session manager
// admits on: the first path segment if it parses as a canonical
// UUID, the second segment when the first is "sub", or else the "id" query
// parameter. Identities are always lower-cased.
func ExtractIdentity(r *http.Request) (string, bool) {
	segments := pathSegments(r.URL.Path)

	if len(segments) > 0 {
		if id, ok := parseIdentity(segments[0]); ok {
			return id, true
		}
		if segments[0] == "sub" && len(segments) > 1 {
			if id, ok := parseIdentity(segments[1]); ok {
				return id, true
			}
		}
	}

	if v := r.URL.Query().Get("id"); v != "" {
		if id, ok := parseIdentity(v); ok {
			return id, true
		}
	}

	return "", false
}

func parseIdentity(s string) (string, bool) {
	// Only the canonical 36-character hyphenated form; uuid.Parse alone also
	// accepts the braced, urn:uuid: and hyphen-less forms.
	if len(s) != 36 {
		return "", false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	return strings.ToLower(u.String()), true
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

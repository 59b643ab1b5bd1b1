package subscription

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

// urlPattern matches both plain "http(s)://…" URLs and their JSON-escaped
// "http(s):\/\/…" form, where every "/" in the escaped form may itself be
// written "\/" throughout the path and query, not just in the scheme
// delimiter.
var urlPattern = regexp.MustCompile(`https?:\\/\\/(?:\\/|[^\s"'<>\\])*|https?://[^\s"'<>\\]+`)

// RewriteDomain implements the optional domain-preservation pass: any URL
// embedded in body that targets the subscription token under the
// configured target is rewritten to the target's own origin, preserving
// path/query/fragment. A no-op when the payload carries no trace of token.
func RewriteDomain(body []byte, target config.SubscriptionTarget, token string) []byte {
	if len(body) == 0 || token == "" {
		return body
	}

	if decoded, ok := tryBase64URLPayload(body); ok {
		if !strings.Contains(string(decoded), token) {
			return body
		}
		rewritten := rewriteURLsInText(string(decoded), target, token)
		return []byte(reencodeLike(body, []byte(rewritten)))
	}

	if !strings.Contains(string(body), token) {
		return body
	}
	return []byte(rewriteURLsInText(string(body), target, token))
}

func rewriteURLsInText(text string, target config.SubscriptionTarget, token string) string {
	targetOrigin, err := url.Parse(target.Origin)
	if err != nil {
		return text
	}
	targetHost := targetOrigin.Host

	return urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		escaped := strings.Contains(match, `\/\/`)
		raw := match
		if escaped {
			raw = strings.ReplaceAll(raw, `\/`, `/`)
		}

		u, err := url.Parse(raw)
		if err != nil {
			return match
		}
		if u.Host == targetHost {
			return match // already the target origin
		}
		if !carriesToken(u, token) {
			return match
		}
		if !underSubscriptionPath(u.Path, target) {
			return match
		}

		u.Scheme = targetOrigin.Scheme
		u.Host = targetHost
		rewritten := u.String()
		if escaped {
			rewritten = strings.ReplaceAll(rewritten, "/", `\/`)
		}
		return rewritten
	})
}

// carriesToken reports whether u's path or query contains token, raw or
// percent-encoded.
func carriesToken(u *url.URL, token string) bool {
	if token == "" {
		return false
	}
	if strings.Contains(u.Path, token) || strings.Contains(u.RawQuery, token) {
		return true
	}
	encoded := url.PathEscape(token)
	return strings.Contains(u.Path, encoded) || strings.Contains(u.RawQuery, encoded)
}

// underSubscriptionPath reports whether path lies under target's own base
// path, or under a "/sub/" prefix anywhere in its segments.
func underSubscriptionPath(path string, target config.SubscriptionTarget) bool {
	if target.BasePath != "" && strings.HasPrefix(path, target.BasePath) {
		return true
	}
	return strings.Contains(path, "/sub/") || strings.HasPrefix(path, "sub/")
}

// RewriteLinks implements the independent link-transform pass: any
// http(s):// URL in a text/plain or application/json response is rewritten
// to point at requestHost instead of its original host.
func RewriteLinks(body []byte, contentType, requestHost string) []byte {
	if !isLinkTransformEligible(contentType) {
		return body
	}
	return []byte(urlPattern.ReplaceAllStringFunc(string(body), func(match string) string {
		escaped := strings.Contains(match, `\/\/`)
		raw := match
		if escaped {
			raw = strings.ReplaceAll(raw, `\/`, `/`)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return match
		}
		u.Host = requestHost
		rewritten := u.String()
		if escaped {
			rewritten = strings.ReplaceAll(rewritten, "/", `\/`)
		}
		return rewritten
	}))
}

func isLinkTransformEligible(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/plain") || strings.Contains(ct, "application/json")
}

// IsTextPayload classifies body as text (eligible for the rewrite scan)
// using content-type hints; only when contentType is empty does it fall
// back to a printable-byte ratio over the first 512 bytes.
func IsTextPayload(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	for _, hint := range []string{"text/", "json", "xml", "yaml", "application/octet-stream"} {
		if strings.Contains(ct, hint) {
			return true
		}
	}
	if ct != "" {
		return false
	}
	return printableRatio(sample(body, 512)) >= 0.85
}

func sample(body []byte, n int) []byte {
	if len(body) < n {
		return body
	}
	return body[:n]
}

func printableRatio(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	printable := 0
	for _, r := range string(b) {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(len([]rune(string(b))))
}

// tryBase64URLPayload reports whether the whole body is canonical base64url
// text (length >= 16, printable ratio >= 0.85, and a round-trip re-encode
// matches exactly), returning its decoded form.
func tryBase64URLPayload(body []byte) ([]byte, bool) {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) < 16 {
		return nil, false
	}
	if printableRatio([]byte(trimmed)) < 0.85 {
		return nil, false
	}

	enc, padded := base64Encoding(trimmed)
	decoded, err := enc.DecodeString(trimmed)
	if err != nil {
		return nil, false
	}
	if canonical := enc.EncodeToString(decoded); canonical != trimmed {
		return nil, false
	}
	_ = padded
	return decoded, true
}

// base64Encoding picks RawURLEncoding or URLEncoding depending on whether
// the text carries "=" padding, so the later re-encode matches style.
func base64Encoding(s string) (*base64.Encoding, bool) {
	if strings.Contains(s, "=") {
		return base64.URLEncoding, true
	}
	return base64.RawURLEncoding, false
}

// reencodeLike re-encodes rewritten with the same base64url alphabet/padding
// style as original.
func reencodeLike(original, rewritten []byte) string {
	trimmed := strings.TrimSpace(string(original))
	enc, _ := base64Encoding(trimmed)
	return enc.EncodeToString(rewritten)
}

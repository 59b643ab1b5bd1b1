// Package subscription implements the optional subscription proxy: route
// resolution, a bounded upstream fetch, an LRU+TTL response cache, and the
// two optional payload-rewrite passes.
package subscription

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

// ResolveTarget matches an inbound path against "/sub/<token...>" or
// "/<service>/sub/<token...>", returning the matched target, the
// reassembled percent-decoded token, and whether the path matched a
// subscription route at all.
func ResolveTarget(path string, targets []config.SubscriptionTarget) (target config.SubscriptionTarget, token string, ok bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return config.SubscriptionTarget{}, "", false
	}

	var rest []string
	var name string
	switch {
	case segments[0] == "sub":
		rest = segments[1:]
	case len(segments) >= 2 && segments[1] == "sub":
		name = strings.ToLower(segments[0])
		rest = segments[2:]
	default:
		return config.SubscriptionTarget{}, "", false
	}
	if len(rest) == 0 {
		return config.SubscriptionTarget{}, "", false
	}

	target, found := findTarget(targets, name)
	if !found {
		return config.SubscriptionTarget{}, "", false
	}

	decoded := make([]string, len(rest))
	for i, seg := range rest {
		d, err := url.PathUnescape(seg)
		if err != nil {
			d = seg
		}
		decoded[i] = d
	}
	return target, strings.Join(decoded, "/"), true
}

// findTarget looks up a named target (case-insensitive), falling back to
// the first configured target both as the default route and when name is
// unrecognized.
func findTarget(targets []config.SubscriptionTarget, name string) (config.SubscriptionTarget, bool) {
	if len(targets) == 0 {
		return config.SubscriptionTarget{}, false
	}
	if name != "" {
		for _, t := range targets {
			if t.Name == name {
				return t, true
			}
		}
	}
	return targets[0], true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// BuildUpstreamURL constructs "<origin>:<port><base-path>/<url-encoded-
// token>?<original-query>". The reassembled token, which may itself
// contain literal slashes from a multi-segment path, is encoded as a
// single opaque path segment, so any embedded "/" becomes "%2F".
func BuildUpstreamURL(target config.SubscriptionTarget, token, rawQuery string) (string, error) {
	origin, err := url.Parse(target.Origin)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(target.BasePath, "/")
	upstream := fmt.Sprintf("%s://%s:%d%s/%s", origin.Scheme, origin.Host, target.Port, base, url.PathEscape(token))
	if rawQuery != "" {
		upstream += "?" + rawQuery
	}
	return upstream, nil
}

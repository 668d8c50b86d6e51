package research

import (
	"net/url"
	"strings"
)

// Query parameters that only identify ad campaigns, not content.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
}

// CanonicalURL normalizes a raw URL into the identity string used for
// deduplication everywhere in the engine: host lowercased, fragment dropped,
// tracking parameters removed, remaining parameters sorted, and a single
// trailing slash stripped from the path. It never fails; input that does not
// parse as a URL comes back trimmed but otherwise untouched.
func CanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			for name := range q {
				lower := strings.ToLower(name)
				if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
					delete(q, name)
				}
			}
			// Encode sorts keys, which gives the stable parameter order.
			u.RawQuery = q.Encode()
		}
	}

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		if u.RawPath != "" {
			u.RawPath = strings.TrimSuffix(u.RawPath, "/")
		}
	}

	return u.String()
}

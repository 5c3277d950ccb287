package realtime

import (
	"net/http"
	"net/url"
	"strings"
)

type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			p.any = true
			continue
		}
		if n := normalizeOrigin(o); n != "" {
			p.allowed[n] = struct{}{}
		}
	}
	return p
}

// check is the upgrader's CheckOrigin. Requests without an Origin header
// come from non-browser clients and are allowed.
func (p originPolicy) check(r *http.Request) bool {
	return p.allows(r.Header.Get("Origin"))
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

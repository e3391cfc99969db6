package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// NewOriginFilter returns the CheckOrigin policy for the status-feed
// upgrade. The feed has exactly two kinds of subscriber: the nrelay CLI,
// which sends no Origin header at all, and browser dashboards served from
// the relay's own domain or a tunnel hostname minted beneath it
// ("<tunnel-id>.<domain>"). Requests without an Origin header are accepted;
// browser origins are accepted iff their hostname is domain itself or a
// subdomain of it. There is no allow-list to configure — the relay domain
// is the policy.
func NewOriginFilter(domain string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return originHostAllowed(origin, domain)
	}
}

// originHostAllowed reports whether origin's hostname is domain or ends in
// ".<domain>", ignoring case and port. A malformed origin, or an empty
// domain, rejects.
func originHostAllowed(origin, domain string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

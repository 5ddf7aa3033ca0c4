package config

import (
	"net/http"
	"net/url"
	"slices"

	"github.com/vango-dev/hypercube/pkg/hypercube"
)

// originChecker accepts same-origin requests and requests whose Origin
// host is listed in allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if slices.Contains(allowed, "*") {
		return hypercube.AllowAnyOrigin
	}
	return func(r *http.Request) bool {
		if hypercube.SameOriginCheck(r) {
			return true
		}
		u, err := url.Parse(r.Header.Get("Origin"))
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Host)
	}
}

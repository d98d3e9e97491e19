package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const DefaultBaseURL = "https://phantom.app/ul/v1"

var ErrInvalidBaseURL = errors.New("invalid wallet base url")

// BuildURL joins base and path and appends params in insertion order.
func BuildURL(base string, path Path, params Params) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || (parsed.Host == "" && parsed.Opaque == "") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, base)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("%w: %q carries a query or fragment", ErrInvalidBaseURL, base)
	}
	out := base + "/" + string(path)
	if len(params) > 0 {
		out += "?" + params.Encode()
	}
	return out, nil
}

// RedirectLink returns the link the wallet should redirect back to. Development
// links (exp://) are not routable from the wallet, so they fall back to the
// app's own scheme.
func RedirectLink(configured, scheme, path string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" && !strings.HasPrefix(configured, "exp://") {
		return configured
	}
	scheme = strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	return scheme + "://" + strings.TrimLeft(strings.TrimSpace(path), "/")
}

package offline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ModeNavigate marks a top-level page navigation.
const ModeNavigate = "navigate"

// Request is the part of an incoming request the engine looks at.
type Request struct {
	Method string
	URL    *url.URL
	Mode   string
	Header http.Header
}

// NewRequest builds a request for an absolute URL.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url %q is not absolute", rawURL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: make(http.Header),
	}, nil
}

// FromHTTP converts a server-side request. The public scheme comes from the
// TLS state or X-Forwarded-Proto, the mode from Sec-Fetch-Mode.
func FromHTTP(r *http.Request) *Request {
	u := *r.URL
	if !u.IsAbs() {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			u.Scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
		u.Host = r.Host
	}
	u.Fragment = ""
	u.RawFragment = ""

	return &Request{
		Method: r.Method,
		URL:    &u,
		Mode:   r.Header.Get("Sec-Fetch-Mode"),
		Header: r.Header.Clone(),
	}
}

// Key returns the canonical request identity used as the cache key.
func (r *Request) Key() string {
	return r.Method + " " + r.URL.String()
}

// splitKey returns the URL part of a cache key.
func splitKey(key string) (method string, rawURL string, ok bool) {
	return strings.Cut(key, " ")
}

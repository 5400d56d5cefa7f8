package offline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Fetcher performs the network side of a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (Response, error) {
	return f(ctx, req)
}

// Request headers that are not forwarded: hop-by-hop headers, ranges and
// conditionals (fills always need a full 200 body) and Accept-Encoding, so
// the transport negotiates compression and hands back decoded bodies.
var droppedRequestHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Range",
	"If-Range",
	"If-None-Match",
	"If-Modified-Since",
	"Accept-Encoding",
}

// HTTPFetcher fetches requests from the origin behind the proxy.
type HTTPFetcher struct {
	client   *http.Client
	upstream *url.URL
}

// NewHTTPFetcher creates a fetcher for the given origin. A nil client uses
// a client without an overall timeout; the transport's dial and TLS
// timeouts still apply.
func NewHTTPFetcher(upstream string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s is not a supported upstream protocol", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPFetcher{client: client, upstream: u}, nil
}

// Upstream returns the origin URL.
func (f *HTTPFetcher) Upstream() *url.URL {
	u := *f.upstream
	return &u
}

// Fetch sends req to the origin. Only transport failures are errors; any
// HTTP status is a response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (Response, error) {
	target := *f.upstream
	target.Path = joinPath(f.upstream.Path, req.URL.Path)
	target.RawPath = ""
	target.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if req.Header != nil {
		out.Header = req.Header.Clone()
	}
	for _, k := range droppedRequestHeaders {
		out.Header.Del(k)
	}
	out.Header.Set("X-Forwarded-Host", req.URL.Host)
	out.Header.Set("X-Forwarded-Proto", req.URL.Scheme)

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return NewNetworkResponse(resp), nil
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

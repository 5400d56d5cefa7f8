package offline

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/lofiland/lofiproxy/internal/cache"
)

// CacheStatusHeader reports how an intercepted response was produced.
const CacheStatusHeader = "X-Lofiproxy-Cache"

// Cache status values
const (
	StatusHit     = "hit"
	StatusMiss    = "miss"
	StatusOffline = "offline"
)

// Response is what strategies return and what the size guard stores. Bodies
// may be read from any number of clones.
type Response interface {
	Status() int
	StatusText() string
	OK() bool
	Header() http.Header
	Clone() Response
	Bytes() ([]byte, error)
}

// hopHeaders are never stored or replayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

func cleanHeader(h http.Header) http.Header {
	h = h.Clone()
	if h == nil {
		h = make(http.Header)
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	return h
}

// entryResponse replays a buffered payload: a cache entry or the synthetic
// offline response.
type entryResponse struct {
	entry  *cache.Entry
	source string
}

// FromEntry wraps a cached entry.
func FromEntry(e *cache.Entry) Response {
	return &entryResponse{entry: e, source: StatusHit}
}

// Offline returns the synthetic response used when there is nothing cached
// and the network failed.
func Offline() Response {
	return &entryResponse{
		entry: &cache.Entry{
			Status:     http.StatusServiceUnavailable,
			StatusText: "Offline",
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       []byte("Offline"),
		},
		source: StatusOffline,
	}
}

func (r *entryResponse) Status() int         { return r.entry.Status }
func (r *entryResponse) StatusText() string  { return r.entry.StatusText }
func (r *entryResponse) OK() bool            { return isOK(r.entry.Status) }
func (r *entryResponse) Header() http.Header { return r.entry.Header }

func (r *entryResponse) Clone() Response {
	return &entryResponse{entry: r.entry.Clone(), source: r.source}
}

func (r *entryResponse) Bytes() ([]byte, error) {
	return r.entry.Body, nil
}

// networkResponse wraps an origin response. Clones share one body that is
// read fully on first use.
type networkResponse struct {
	status     int
	statusText string
	header     http.Header
	body       *sharedBody
}

type sharedBody struct {
	once sync.Once
	rc   io.ReadCloser
	data []byte
	err  error
}

func (b *sharedBody) bytes() ([]byte, error) {
	b.once.Do(func() {
		b.data, b.err = io.ReadAll(b.rc)
		if closeErr := b.rc.Close(); b.err == nil && closeErr != nil {
			b.err = closeErr
		}
		b.rc = nil
	})
	return b.data, b.err
}

// NewNetworkResponse wraps an origin response. The body is consumed by the
// first Bytes call on any clone.
func NewNetworkResponse(resp *http.Response) Response {
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	return &networkResponse{
		status:     resp.StatusCode,
		statusText: reasonPhrase(resp),
		header:     cleanHeader(resp.Header),
		body:       &sharedBody{rc: body},
	}
}

func (r *networkResponse) Status() int         { return r.status }
func (r *networkResponse) StatusText() string  { return r.statusText }
func (r *networkResponse) OK() bool            { return isOK(r.status) }
func (r *networkResponse) Header() http.Header { return r.header }

func (r *networkResponse) Clone() Response {
	c := *r
	c.header = r.header.Clone()
	return &c
}

func (r *networkResponse) Bytes() ([]byte, error) {
	return r.body.bytes()
}

func isOK(status int) bool {
	return status >= 200 && status <= 299
}

func reasonPhrase(resp *http.Response) string {
	// resp.Status is "200 OK"
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// toEntry copies a response into a cache entry.
func toEntry(resp Response, body []byte) *cache.Entry {
	return &cache.Entry{
		Status:     resp.Status(),
		StatusText: resp.StatusText(),
		Header:     cleanHeader(resp.Header()),
		Body:       append([]byte(nil), body...),
	}
}

// CacheStatus returns the X-Lofiproxy-Cache value for resp.
func CacheStatus(resp Response) string {
	switch r := resp.(type) {
	case *entryResponse:
		return r.source
	default:
		return StatusMiss
	}
}

// WriteResponse replays resp on w. The body is buffered before the header
// is written so a failing body turns into an error rather than a truncated
// response.
func WriteResponse(w http.ResponseWriter, resp Response) error {
	body, err := resp.Bytes()
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
	}

	h := w.Header()
	for k, v := range cleanHeader(resp.Header()) {
		h[k] = append([]string(nil), v...)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set(CacheStatusHeader, CacheStatus(resp))

	w.WriteHeader(resp.Status())
	_, err = w.Write(body)
	return err
}

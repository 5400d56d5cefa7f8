package offline

import (
	"net/http"
	"net/url"
	"strings"
)

// Class is the routing class of a request.
type Class int

const (
	// Unhandled requests are forwarded to the origin untouched
	Unhandled Class = iota

	// Audio is a loop inside a pack
	Audio

	// Manifest is a pack or app manifest
	Manifest

	// Document is the app shell
	Document
)

// String returns the class name
func (c Class) String() string {
	switch c {
	case Audio:
		return "audio"
	case Manifest:
		return "manifest"
	case Document:
		return "document"
	default:
		return "unhandled"
	}
}

const packsSegment = "/packs/"

var audioExtensions = []string{".ogg", ".wav", ".mp3"}

// Intercepts reports whether the engine handles the request at all: only GET
// over http or https.
func Intercepts(req *Request) bool {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// Classify maps a request to its class. The first matching rule wins.
func Classify(req *Request) Class {
	if !Intercepts(req) {
		return Unhandled
	}

	path := req.URL.Path
	switch {
	case isAudioPath(path):
		return Audio
	case strings.HasSuffix(path, "manifest.json"):
		return Manifest
	case req.Mode == ModeNavigate,
		strings.HasSuffix(path, "/index.html"),
		path == "/", path == "":
		return Document
	default:
		return Unhandled
	}
}

func isAudioPath(path string) bool {
	if !strings.Contains(path, packsSegment) {
		return false
	}
	for _, ext := range audioExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// IsAudioKey reports whether a cache key belongs to the audio partition.
func IsAudioKey(key string) bool {
	method, rawURL, ok := splitKey(key)
	if !ok || method != http.MethodGet {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isAudioPath(u.Path)
}

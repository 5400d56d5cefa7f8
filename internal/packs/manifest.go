package packs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// ManifestName is the file name of a pack manifest.
const ManifestName = "manifest.json"

// Stems lists the stems a pack may provide, in manifest order.
var Stems = []string{"drums", "bass", "chords", "melody"}

// ErrNoPacks is returned when the packs directory does not exist.
var ErrNoPacks = errors.New("no packs directory")

// Stem is one stem of a pack and its loop files.
type Stem struct {
	Name  string
	Files []string
}

// Manifest lists a pack's loops per stem. Stem order is preserved when
// encoding and decoding.
type Manifest struct {
	Stems []Stem
}

// Files returns every loop file in stem order.
func (m *Manifest) Files() []string {
	var files []string
	for _, s := range m.Stems {
		files = append(files, s.Files...)
	}
	return files
}

// Len returns the number of loop files.
func (m *Manifest) Len() int {
	n := 0
	for _, s := range m.Stems {
		n += len(s.Files)
	}
	return n
}

// MarshalJSON encodes the manifest as an object in stem order.
func (m Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range m.Stems {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		files := s.Files
		if files == nil {
			files = []string{}
		}
		list, err := json.Marshal(files)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(list)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of stem lists, keeping key order.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("manifest must be a JSON object")
	}

	m.Stems = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var files []string
		if err := dec.Decode(&files); err != nil {
			return fmt.Errorf("stem %q: %w", name, err)
		}
		m.Stems = append(m.Stems, Stem{Name: name, Files: files})
	}

	_, err = dec.Token()
	return err
}

// ParseManifest decodes a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid pack manifest: %w", err)
	}
	return &m, nil
}

// BuildManifest lists the loops found in one pack directory. Stems without
// loops are left out.
func BuildManifest(packDir string) (*Manifest, error) {
	m := &Manifest{}
	for _, stem := range Stems {
		matches, err := filepath.Glob(filepath.Join(packDir, stem+"_loop_*.ogg"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}

		files := make([]string, len(matches))
		for i, p := range matches {
			files[i] = filepath.Base(p)
		}
		sort.Slice(files, func(i, j int) bool {
			return naturalLess(files[i], files[j])
		})
		m.Stems = append(m.Stems, Stem{Name: stem, Files: files})
	}
	return m, nil
}

// WriteManifest writes m to packDir/manifest.json with two-space indent.
func WriteManifest(packDir string, m *Manifest) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", err
	}
	out.WriteByte('\n')

	path := filepath.Join(packDir, ManifestName)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil { //nolint:gosec
		return "", fmt.Errorf("unable to write manifest: %w", err)
	}
	return path, nil
}

// BuildAll writes a manifest for every pack below packsDir, in name order,
// and returns the written paths.
func BuildAll(packsDir string) ([]string, error) {
	entries, err := os.ReadDir(packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoPacks, packsDir)
		}
		return nil, err
	}

	var written []string
	for _, e := range entries { // ReadDir sorts by name
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(packsDir, e.Name())

		m, err := BuildManifest(dir)
		if err != nil {
			return written, fmt.Errorf("pack %s: %w", e.Name(), err)
		}
		path, err := WriteManifest(dir, m)
		if err != nil {
			return written, fmt.Errorf("pack %s: %w", e.Name(), err)
		}

		log.Info("Wrote manifest", "path", path, "loops", m.Len())
		written = append(written, path)
	}
	return written, nil
}

var digitRun = regexp.MustCompile(`\d+`)

// naturalLess orders names so that loop_2 sorts before loop_10. Text parts
// compare case-insensitively.
func naturalLess(a, b string) bool {
	pa, pb := naturalKey(a), naturalKey(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		x, y := pa[i], pb[i]
		if x.numeric && y.numeric {
			if x.n != y.n {
				return x.n < y.n
			}
			continue
		}
		if x.text != y.text {
			return x.text < y.text
		}
	}
	return len(pa) < len(pb)
}

type keyPart struct {
	text    string
	n       uint64
	numeric bool
}

// naturalKey splits s into alternating text and number parts, always
// starting with a (possibly empty) text part.
func naturalKey(s string) []keyPart {
	var parts []keyPart
	last := 0
	for _, loc := range digitRun.FindAllStringIndex(s, -1) {
		parts = append(parts, keyPart{text: strings.ToLower(s[last:loc[0]])})
		n, err := strconv.ParseUint(s[loc[0]:loc[1]], 10, 64)
		if err != nil {
			// Too long for a number, compare as text
			parts = append(parts, keyPart{text: s[loc[0]:loc[1]]})
		} else {
			parts = append(parts, keyPart{n: n, numeric: true})
		}
		last = loc[1]
	}
	parts = append(parts, keyPart{text: strings.ToLower(s[last:])})
	return parts
}

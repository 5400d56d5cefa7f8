package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

const (
	indexFileName = "cache.index"
	entryFileExt  = ".cache"

	// Bodies below this size are never compressed
	compressThreshold = 1024
)

// DiskStorage keeps each generation in its own directory below basePath.
// Entries are gob encoded, optionally zstd compressed, and written through a
// temporary file and rename so a partially written entry is never visible.
type DiskStorage struct {
	basePath string

	// Compression
	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder

	mu     sync.Mutex
	open   map[string]*DiskStore
	closed bool
}

// NewDiskStorage creates a disk storage rooted at basePath.
func NewDiskStorage(basePath string, compressionLevel int) (*DiskStorage, error) {
	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &DiskStorage{
		basePath:         basePath,
		compressionLevel: compressionLevel,
		open:             make(map[string]*DiskStore),
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// The decoder is always available so that generations written with
	// compression can be read after compression was turned off.
	var err error
	ds.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return ds, nil
}

// Open returns the named generation, creating its directory if needed.
func (ds *DiskStorage) Open(_ context.Context, name string) (Store, error) {
	if err := ValidGeneration(name); err != nil {
		return nil, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return nil, ErrClosed
	}
	if st, ok := ds.open[name]; ok {
		return st, nil
	}

	dir := filepath.Join(ds.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create generation directory: %w", err)
	}

	st := &DiskStore{
		name:    name,
		dir:     dir,
		storage: ds,
		index:   make(map[string]*diskIndexEntry),
		stats:   CacheStats{Generation: name},
	}

	// Load existing index
	index, err := loadIndex(dir)
	if err != nil {
		// Non-fatal: start with an empty index, orphaned files are
		// overwritten or removed with the generation
		log.Warn("Discarding unreadable cache index", "generation", name, "error", err)
	} else {
		st.index = index
	}
	st.recalculate()

	ds.open[name] = st
	return st, nil
}

// Names returns generation names sorted by directory name.
func (ds *DiskStorage) Names(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(ds.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidGeneration(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Remove deletes the named generation directory.
func (ds *DiskStorage) Remove(_ context.Context, name string) (bool, error) {
	if err := ValidGeneration(name); err != nil {
		return false, err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if st, ok := ds.open[name]; ok {
		st.markRemoved()
		delete(ds.open, name)
	}

	dir := filepath.Join(ds.basePath, name)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove generation %q: %w", name, err)
	}
	return true, nil
}

// Stats returns statistics for the named generation. Generations that are
// not open are read from their index without being opened.
func (ds *DiskStorage) Stats(_ context.Context, name string) (CacheStats, error) {
	if err := ValidGeneration(name); err != nil {
		return CacheStats{}, err
	}

	ds.mu.Lock()
	st, ok := ds.open[name]
	ds.mu.Unlock()
	if ok {
		return st.Stats(), nil
	}

	dir := filepath.Join(ds.basePath, name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CacheStats{}, ErrCacheMiss
		}
		return CacheStats{}, err
	}

	index, err := loadIndex(dir)
	if err != nil {
		return CacheStats{}, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	stats := CacheStats{Generation: name, ItemCount: int64(len(index))}
	for _, e := range index {
		stats.Size += e.OriginalSize
	}
	return stats, nil
}

// Close flushes the index of every open generation.
func (ds *DiskStorage) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var errs []error
	for name, st := range ds.open {
		if err := st.flush(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	ds.open = make(map[string]*DiskStore)
	ds.closed = true

	if ds.encoder != nil {
		_ = ds.encoder.Close()
	}
	ds.decoder.Close()

	return errors.Join(errs...)
}

// DiskStore is a single generation directory.
type DiskStore struct {
	name    string
	dir     string
	storage *DiskStorage

	index   map[string]*diskIndexEntry
	seq     uint64
	size    int64
	removed bool

	mu sync.RWMutex

	stats CacheStats
}

// diskIndexEntry represents an entry in the generation index
type diskIndexEntry struct {
	Key          string
	FileName     string
	Seq          uint64 // Insertion sequence, enumeration order
	Size         int64  // Size on disk
	OriginalSize int64  // Body size
	Stored       time.Time
	Compressed   bool
}

// diskRecord is the on-disk form of an Entry
type diskRecord struct {
	Status     int
	StatusText string
	Header     map[string][]string
	Body       []byte
	Stored     time.Time
}

// Name returns the generation name.
func (st *DiskStore) Name() string {
	return st.name
}

// Match reads the entry stored under key.
func (st *DiskStore) Match(_ context.Context, key string) (*Entry, error) {
	st.mu.RLock()
	if st.removed {
		st.mu.RUnlock()
		return nil, ErrClosed
	}
	ie, ok := st.index[key]
	var fileName string
	var compressed bool
	if ok {
		fileName, compressed = ie.FileName, ie.Compressed
	}
	st.mu.RUnlock()

	if !ok {
		st.count(func(s *CacheStats) { s.Misses++ })
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(filepath.Join(st.dir, fileName))
	if err != nil {
		// File missing, drop it from the index
		st.dropIfCurrent(key, fileName)
		st.count(func(s *CacheStats) { s.Misses++ })
		return nil, ErrCacheMiss
	}

	entry, err := st.decode(data, compressed)
	if err != nil {
		st.dropIfCurrent(key, fileName)
		st.count(func(s *CacheStats) { s.Misses++ })
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}

	st.count(func(s *CacheStats) {
		s.Hits++
		s.LastAccess = time.Now()
	})
	return entry, nil
}

// Put writes entry under key, replacing any previous entry.
func (st *DiskStore) Put(_ context.Context, key string, entry *Entry) error {
	stored := entry.Clone()
	if stored.Stored.IsZero() {
		stored.Stored = time.Now()
	}

	data, compressed, err := st.encode(stored)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	// Write the payload before taking the lock; the rename below makes it
	// visible atomically.
	tmp, err := writeTemp(st.dir, data)
	if err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		os.Remove(tmp)
		return ErrClosed
	}

	fileName := generateFileName(key)
	if err := os.Rename(tmp, filepath.Join(st.dir, fileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if existing, ok := st.index[key]; ok {
		st.size -= existing.OriginalSize
	}

	st.seq++
	st.index[key] = &diskIndexEntry{
		Key:          key,
		FileName:     fileName,
		Seq:          st.seq,
		Size:         int64(len(data)),
		OriginalSize: stored.Size(),
		Stored:       stored.Stored,
		Compressed:   compressed,
	}
	st.size += stored.Size()

	// The entry is on disk and indexed in memory; a failed save is retried
	// by the next write or by Close.
	st.persistIndex()
	return nil
}

// Delete removes key, reporting whether it was present.
func (st *DiskStore) Delete(_ context.Context, key string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return false, ErrClosed
	}

	ie, ok := st.index[key]
	if !ok {
		return false, nil
	}

	if err := os.Remove(filepath.Join(st.dir, ie.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove cache file: %w", err)
	}

	delete(st.index, key)
	st.size -= ie.OriginalSize
	st.stats.Evictions++

	st.persistIndex()
	return true, nil
}

// Keys returns all keys ordered by insertion sequence.
func (st *DiskStore) Keys(_ context.Context) ([]string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.removed {
		return nil, ErrClosed
	}

	entries := make([]*diskIndexEntry, 0, len(st.index))
	for _, e := range st.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

// Stats returns generation statistics.
func (st *DiskStore) Stats() CacheStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stats := st.stats
	stats.Size = st.size
	stats.ItemCount = int64(len(st.index))
	stats.calculateHitRate()
	return stats
}

// Private helper methods

func (st *DiskStore) count(fn func(*CacheStats)) {
	st.mu.Lock()
	fn(&st.stats)
	st.mu.Unlock()
}

// dropIfCurrent removes key from the index unless it was rewritten since
// fileName was read.
func (st *DiskStore) dropIfCurrent(key, fileName string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ie, ok := st.index[key]
	if !ok || ie.FileName != fileName || st.removed {
		return
	}
	os.Remove(filepath.Join(st.dir, fileName))
	delete(st.index, key)
	st.size -= ie.OriginalSize
	_ = st.saveIndex()
}

func (st *DiskStore) encode(entry *Entry) ([]byte, bool, error) {
	var buf bytes.Buffer
	rec := diskRecord{
		Status:     entry.Status,
		StatusText: entry.StatusText,
		Header:     entry.Header,
		Body:       entry.Body,
		Stored:     entry.Stored,
	}
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, false, err
	}

	enc := st.storage.encoder
	if enc == nil || buf.Len() <= compressThreshold {
		return buf.Bytes(), false, nil
	}

	compressed := enc.EncodeAll(buf.Bytes(), nil)
	// Only use compression if it actually reduces size
	if len(compressed) >= buf.Len() {
		return buf.Bytes(), false, nil
	}
	return compressed, true, nil
}

func (st *DiskStore) decode(data []byte, compressed bool) (*Entry, error) {
	if compressed {
		var err error
		data, err = st.storage.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, err
		}
	}

	var rec diskRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &Entry{
		Status:     rec.Status,
		StatusText: rec.StatusText,
		Header:     rec.Header,
		Body:       rec.Body,
		Stored:     rec.Stored,
	}, nil
}

func (st *DiskStore) recalculate() {
	st.size = 0
	st.seq = 0
	for _, e := range st.index {
		st.size += e.OriginalSize
		if e.Seq > st.seq {
			st.seq = e.Seq
		}
	}
}

func (st *DiskStore) markRemoved() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.removed = true
	st.index = make(map[string]*diskIndexEntry)
	st.size = 0
}

func (st *DiskStore) flush() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.removed {
		return nil
	}
	return st.saveIndex()
}

// persistIndex saves the index, logging a failure. It must be called with
// st.mu held.
func (st *DiskStore) persistIndex() {
	if err := st.saveIndex(); err != nil {
		log.Warn("Unable to save cache index", "generation", st.name, "error", err)
	}
}

// saveIndex must be called with st.mu held.
func (st *DiskStore) saveIndex() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st.index); err != nil {
		return err
	}

	tmp, err := writeTemp(st.dir, buf.Bytes())
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(st.dir, indexFileName)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func loadIndex(dir string) (map[string]*diskIndexEntry, error) {
	index := make(map[string]*diskIndexEntry)

	file, err := os.Open(filepath.Join(dir, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil // No index file yet
		}
		return nil, err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&index); err != nil {
		return nil, err
	}
	return index, nil
}

func generateFileName(key string) string {
	// Use SHA256 hash of key for filename
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + entryFileExt
}

// writeTemp writes data to a new temporary file in dir and returns its path.
func writeTemp(dir string, data []byte) (string, error) {
	file, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return "", err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(file.Name())
		return "", err
	}
	if closeErr != nil {
		os.Remove(file.Name())
		return "", closeErr
	}
	return file.Name(), nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"testing"
)

type storageFactory func(t *testing.T) Storage

func backends() map[string]storageFactory {
	return map[string]storageFactory{
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage()
		},
		"disk": func(t *testing.T) Storage {
			s, err := NewDiskStorage(t.TempDir(), 3)
			if err != nil {
				t.Fatalf("Failed to create disk storage: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Storage {
			s, err := NewSQLiteStorage(t.TempDir())
			if err != nil {
				t.Fatalf("Failed to create sqlite storage: %v", err)
			}
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, storage Storage)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			storage := factory(t)
			defer storage.Close()
			fn(t, storage)
		})
	}
}

func openStore(t *testing.T, storage Storage, name string) Store {
	t.Helper()
	st, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", name, err)
	}
	return st
}

func textEntry(body string) *Entry {
	return &Entry{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}
}

func mustKeys(t *testing.T, st Store) []string {
	t.Helper()
	keys, err := st.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	return keys
}

func TestStore_BasicOperations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		if st.Name() != "lofiland-v1" {
			t.Errorf("Name mismatch: got %s", st.Name())
		}

		key := "GET http://localhost/index.html"
		if err := st.Put(ctx, key, textEntry("shell")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := st.Match(ctx, key)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if string(got.Body) != "shell" {
			t.Errorf("Body mismatch: got %s, want shell", got.Body)
		}
		if got.Status != http.StatusOK || got.StatusText != "OK" {
			t.Errorf("Status mismatch: got %d %s", got.Status, got.StatusText)
		}
		if got.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("Header mismatch: got %v", got.Header)
		}
		if got.Stored.IsZero() {
			t.Error("Stored time not set")
		}

		deleted, err := st.Delete(ctx, key)
		if err != nil || !deleted {
			t.Fatalf("Delete failed: %v %v", deleted, err)
		}
		if _, err := st.Match(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected cache miss after delete, got %v", err)
		}

		deleted, err = st.Delete(ctx, key)
		if err != nil || deleted {
			t.Errorf("Second delete should report absent: %v %v", deleted, err)
		}
	})
}

func TestStore_MatchReturnsCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		key := "GET http://localhost/"
		if err := st.Put(ctx, key, textEntry("shell")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := st.Match(ctx, key)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		got.Body[0] = 'X'
		got.Header.Set("Content-Type", "changed")

		again, err := st.Match(ctx, key)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if string(again.Body) != "shell" || again.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("Stored entry was modified through a match: %s %v", again.Body, again.Header)
		}
	})
}

func TestStore_KeysInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		var want []string
		for i := 0; i < 12; i++ {
			key := fmt.Sprintf("GET http://localhost/packs/forest/drums_loop_%d.ogg", i)
			if err := st.Put(ctx, key, textEntry("loop")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			want = append(want, key)
		}

		if got := mustKeys(t, st); !reflect.DeepEqual(got, want) {
			t.Errorf("Keys out of order:\n got %v\nwant %v", got, want)
		}
	})
}

func TestStore_OverwriteMovesToEnd(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		for _, k := range []string{"a", "b", "c"} {
			if err := st.Put(ctx, "GET http://localhost/"+k, textEntry(k)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := st.Put(ctx, "GET http://localhost/a", textEntry("a2")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		want := []string{"GET http://localhost/b", "GET http://localhost/c", "GET http://localhost/a"}
		if got := mustKeys(t, st); !reflect.DeepEqual(got, want) {
			t.Errorf("Keys mismatch:\n got %v\nwant %v", got, want)
		}

		got, err := st.Match(ctx, "GET http://localhost/a")
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if string(got.Body) != "a2" {
			t.Errorf("Overwrite not visible: got %s", got.Body)
		}
	})
}

func TestStorage_GenerationsAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		v0 := openStore(t, storage, "lofiland-v0")
		v1 := openStore(t, storage, "lofiland-v1")

		key := "GET http://localhost/"
		if err := v0.Put(ctx, key, textEntry("old")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := v1.Match(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Entry leaked across generations: %v", err)
		}

		names, err := storage.Names(ctx)
		if err != nil {
			t.Fatalf("Names failed: %v", err)
		}
		sort.Strings(names)
		if !reflect.DeepEqual(names, []string{"lofiland-v0", "lofiland-v1"}) {
			t.Errorf("Names mismatch: %v", names)
		}

		removed, err := storage.Remove(ctx, "lofiland-v0")
		if err != nil || !removed {
			t.Fatalf("Remove failed: %v %v", removed, err)
		}
		removed, err = storage.Remove(ctx, "lofiland-v0")
		if err != nil || removed {
			t.Errorf("Second remove should report absent: %v %v", removed, err)
		}

		names, err = storage.Names(ctx)
		if err != nil {
			t.Fatalf("Names failed: %v", err)
		}
		if !reflect.DeepEqual(names, []string{"lofiland-v1"}) {
			t.Errorf("Names after remove: %v", names)
		}

		// Reopening a removed generation starts empty
		v0 = openStore(t, storage, "lofiland-v0")
		if keys := mustKeys(t, v0); len(keys) != 0 {
			t.Errorf("Reopened generation not empty: %v", keys)
		}
	})
}

func TestStorage_Stats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		_ = st.Put(ctx, "GET http://localhost/a", textEntry("12345"))
		_ = st.Put(ctx, "GET http://localhost/b", textEntry("123"))
		_, _ = st.Match(ctx, "GET http://localhost/a")
		_, _ = st.Match(ctx, "GET http://localhost/missing")

		stats, err := storage.Stats(ctx, "lofiland-v1")
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.ItemCount != 2 {
			t.Errorf("ItemCount: got %d, want 2", stats.ItemCount)
		}
		if stats.Size != 8 {
			t.Errorf("Size: got %d, want 8", stats.Size)
		}
		if stats.Hits != 1 || stats.Misses != 1 || stats.HitRate != 0.5 {
			t.Errorf("Hit stats: %+v", stats)
		}

		if _, err := storage.Stats(ctx, "scratch"); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected cache miss for unknown generation, got %v", err)
		}
	})
}

func TestStorage_InvalidGeneration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		for _, name := range []string{"", "../escape", ".hidden", "a b"} {
			if _, err := storage.Open(context.Background(), name); !errors.Is(err, ErrGenerationName) {
				t.Errorf("Open(%q): expected ErrGenerationName, got %v", name, err)
			}
		}
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	forEachBackend(t, func(t *testing.T, storage Storage) {
		ctx := context.Background()
		st := openStore(t, storage, "lofiland-v1")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					key := fmt.Sprintf("GET http://localhost/packs/p/k%d_%d.ogg", id, j)
					if err := st.Put(ctx, key, textEntry(key)); err != nil {
						t.Errorf("Put failed: %v", err)
						return
					}
					if _, err := st.Match(ctx, key); err != nil {
						t.Errorf("Match failed: %v", err)
						return
					}
				}
			}(i)
		}
		wg.Wait()

		if keys := mustKeys(t, st); len(keys) != 80 {
			t.Errorf("Expected 80 keys, got %d", len(keys))
		}
	})
}

func TestNewStorage(t *testing.T) {
	if _, err := NewStorage(&StorageConfig{Driver: DriverDisk}); err == nil {
		t.Error("Expected an error for disk storage without a directory")
	}
	if _, err := NewStorage(&StorageConfig{Driver: "tape", Dir: t.TempDir()}); err == nil {
		t.Error("Expected an error for an unknown driver")
	}

	s, err := NewStorage(&StorageConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStorage); !ok {
		t.Errorf("Expected *MemoryStorage, got %T", s)
	}
}

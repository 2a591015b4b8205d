package prospect

import (
	"path/filepath"
	"testing"
)

func openTestSeenStore(t *testing.T) *SeenStore {
	t.Helper()

	store, err := OpenSeenStore(filepath.Join(t.TempDir(), "seen.db"))
	if err != nil {
		t.Fatalf("OpenSeenStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSeenStore_MarkAndSeen(t *testing.T) {
	store := openTestSeenStore(t)

	seen, err := store.Seen("c1", "place-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true before Mark")
	}

	if err := store.Mark("c1", "place-1"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	seen, err = store.Seen("c1", "place-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() = false after Mark")
	}
}

func TestSeenStore_ScopedPerCampaign(t *testing.T) {
	store := openTestSeenStore(t)

	if err := store.Mark("c1", "place-1"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	seen, err := store.Seen("c2", "place-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() = true for another campaign, want per-campaign scope")
	}
}

func TestSeenStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.db")

	store, err := OpenSeenStore(path)
	if err != nil {
		t.Fatalf("OpenSeenStore() error = %v", err)
	}
	if err := store.Mark("c1", "place-1"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenSeenStore(path)
	if err != nil {
		t.Fatalf("OpenSeenStore() reopen error = %v", err)
	}
	defer reopened.Close()

	seen, err := reopened.Seen("c1", "place-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() = false after reopen, want persisted mark")
	}
}

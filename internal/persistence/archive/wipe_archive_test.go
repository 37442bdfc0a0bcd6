package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveWipe_WritesPreferencesAndMeta(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	prefs := map[string]bool{"1": true, "2": false, "3": true}

	path, err := ArchiveWipe(dir, prefs, now)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if want := filepath.Join(dir, "archives", "wipe_20260506T070809Z", "preferences.json"); path != want {
		t.Fatalf("path=%s want %s", path, want)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	var got map[string]bool
	if err := json.Unmarshal(b, &got); err != nil || len(got) != 3 || !got["3"] {
		t.Fatalf("archived content mismatch: %v %v", got, err)
	}

	var meta WipeArchiveMeta
	mb, err := os.ReadFile(filepath.Join(filepath.Dir(path), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	if err := json.Unmarshal(mb, &meta); err != nil || meta.Entries != 3 || meta.Enabled != 2 {
		t.Fatalf("unexpected meta: %+v %v", meta, err)
	}
}

func TestArchiveWipe_SameSecondDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	first, err := ArchiveWipe(dir, map[string]bool{"1": true}, now)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := ArchiveWipe(dir, nil, now)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct archive dirs, got %s twice", first)
	}
	if filepath.Base(filepath.Dir(second)) != "wipe_20260506T070809Z_2" {
		t.Fatalf("unexpected second dir %s", second)
	}
}

func TestArchiveWipe_EmptyDataDir(t *testing.T) {
	if _, err := ArchiveWipe("", nil, time.Now()); err == nil {
		t.Fatalf("expected error for empty data dir")
	}
}

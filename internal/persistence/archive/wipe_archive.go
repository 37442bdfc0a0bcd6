package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type WipeArchiveMeta struct {
	CreatedAt string `json:"created_at"`
	Entries   int    `json:"entries"`
	Enabled   int    `json:"enabled"`
	Reason    string `json:"reason"`
}

// ArchiveWipe writes the outgoing preference map into `dataDir/archives/wipe_<UTC ts>/`
// and returns the path of the archived preferences.json.
func ArchiveWipe(dataDir string, prefs map[string]bool, now time.Time) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("empty data dir")
	}
	base := filepath.Join(dataDir, "archives", "wipe_"+now.UTC().Format("20060102T150405Z"))
	archiveDir := base
	for i := 2; ; i++ {
		if _, err := os.Stat(archiveDir); os.IsNotExist(err) {
			break
		}
		archiveDir = fmt.Sprintf("%s_%d", base, i)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	if prefs == nil {
		prefs = map[string]bool{}
	}
	b, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return "", err
	}
	dst := filepath.Join(archiveDir, "preferences.json")
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		return "", err
	}

	meta := WipeArchiveMeta{
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Entries:   len(prefs),
		Reason:    "world_wipe",
	}
	for _, on := range prefs {
		if on {
			meta.Enabled++
		}
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

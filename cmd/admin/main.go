package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"autorefill/internal/persistence/archive"
	persistlog "autorefill/internal/persistence/log"
	"autorefill/internal/sim/commands"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "changes":
			changesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "prefs":
			prefsCmd(os.Args[2:])
			return
		case "set":
			setCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		}
	}
	archivesCmd(os.Args[1:])
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	out, err := listArchives(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, a := range out {
		printJSON(a)
	}
}

type archiveEntry struct {
	Dir string `json:"dir"`
	archive.WipeArchiveMeta
}

// listArchives returns wipe archives oldest first. Archives without a readable
// meta.json are listed with the directory name only.
func listArchives(dataDir string) ([]archiveEntry, error) {
	base := filepath.Join(dataDir, "archives")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []archiveEntry
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "wipe_") {
			continue
		}
		a := archiveEntry{Dir: e.Name()}
		if b, err := os.ReadFile(filepath.Join(base, e.Name(), "meta.json")); err == nil {
			_ = json.Unmarshal(b, &a.WipeArchiveMeta)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

func changesCmd(args []string) {
	fs := flag.NewFlagSet("changes", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	actor := fs.Uint64("actor", 0, "only changes made by or targeting this actor id")
	since := fs.Duration("since", 0, "only changes newer than this (e.g. 24h; 0 = all)")
	text := fs.Bool("text", false, "print human-readable lines instead of JSON")
	_ = fs.Parse(args)

	files, err := persistlog.ChangeFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}

	n := 0
	for _, p := range files {
		recs, err := persistlog.ReadChanges(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: %s: %v\n", filepath.Base(p), err)
			continue
		}
		for _, rec := range filterChanges(recs, *actor, cutoff) {
			if *text {
				fmt.Println(rec.String())
			} else {
				printJSON(rec)
			}
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no matching change records")
	}
}

func filterChanges(recs []commands.ChangeRecord, actor uint64, cutoff time.Time) []commands.ChangeRecord {
	out := recs[:0:0]
	for _, r := range recs {
		if actor != 0 && r.ActorID != actor && r.TargetID != actor {
			continue
		}
		if !cutoff.IsZero() && r.Time.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

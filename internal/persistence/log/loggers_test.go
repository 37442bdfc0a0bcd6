package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autorefill/internal/sim/commands"
)

func TestChangeLogger_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	l := NewChangeLogger(dir)
	ts := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	l.w.now = func() time.Time { return ts }

	recs := []commands.ChangeRecord{
		{ID: "1", Time: ts, Source: commands.SourceActor, ActorID: 5, ActorName: "Ann", Enabled: true},
		{ID: "2", Time: ts, Source: commands.SourceAdmin, ActorID: 9, ActorName: "Op", TargetID: 5, TargetName: "Ann"},
	}
	for _, r := range recs {
		if err := l.WriteChange(r); err != nil {
			t.Fatalf("WriteChange: %v", err)
		}
	}

	files, err := ChangeFiles(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one change file, got %v %v", files, err)
	}
	if filepath.Base(files[0]) != "changes-2026-03-04-10.jsonl.zst" {
		t.Fatalf("unexpected file name %s", files[0])
	}
	got, err := ReadChanges(files[0])
	if err != nil {
		t.Fatalf("ReadChanges on live file: %v", err)
	}
	if len(got) != 2 || got[1].TargetName != "Ann" || got[1].Source != commands.SourceAdmin {
		t.Fatalf("unexpected records: %+v", got)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestChangeLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewChangeLogger(dir)
	ts := time.Date(2026, 3, 4, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return ts }
	_ = l.WriteChange(commands.ChangeRecord{ID: "a", Time: ts})
	ts = ts.Add(2 * time.Minute)
	_ = l.WriteChange(commands.ChangeRecord{ID: "b", Time: ts})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening appends a second frame to the same hour's file.
	l2 := NewChangeLogger(dir)
	l2.w.now = func() time.Time { return ts }
	_ = l2.WriteChange(commands.ChangeRecord{ID: "c", Time: ts})
	_ = l2.Close()

	files, _ := ChangeFiles(dir)
	if len(files) != 2 {
		t.Fatalf("expected two hourly files, got %v", files)
	}
	last, err := ReadChanges(files[1])
	if err != nil {
		t.Fatalf("ReadChanges: %v", err)
	}
	if len(last) != 2 || last[0].ID != "b" || last[1].ID != "c" {
		t.Fatalf("expected appended frames decoded in order, got %+v", last)
	}
}

func TestReadChanges_Missing(t *testing.T) {
	if _, err := ReadChanges(filepath.Join(t.TempDir(), "nope.jsonl.zst")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestChangeLogger_ReportsClosedSegments(t *testing.T) {
	dir := t.TempDir()
	l := NewChangeLogger(dir)
	var closed []string
	l.OnSegmentClosed(func(p string) { closed = append(closed, filepath.Base(p)) })

	ts := time.Date(2026, 3, 4, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return ts }
	_ = l.WriteChange(commands.ChangeRecord{ID: "1", Time: ts, ActorID: 1})
	if len(closed) != 0 {
		t.Fatalf("expected no closed segment yet, got %v", closed)
	}
	ts = ts.Add(2 * time.Minute)
	_ = l.WriteChange(commands.ChangeRecord{ID: "2", Time: ts, ActorID: 1})
	if len(closed) != 1 || closed[0] != "changes-2026-03-04-10.jsonl.zst" {
		t.Fatalf("expected the 10h segment reported, got %v", closed)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(closed) != 2 || closed[1] != "changes-2026-03-04-11.jsonl.zst" {
		t.Fatalf("expected the 11h segment reported on close, got %v", closed)
	}
}

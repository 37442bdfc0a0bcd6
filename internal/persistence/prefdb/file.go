// Package prefdb holds the durable backends for the preference map.
package prefdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrEmptyPath = errors.New("empty preference store path")

// File stores preferences as one JSON object mapping actor id to enabled.
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &File{path: path}, nil
}

func (f *File) Path() string { return f.path }

// Load returns an empty map when the file does not exist yet.
func (f *File) Load() (map[string]bool, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(f.path), err)
	}
	if m == nil {
		m = map[string]bool{}
	}
	return m, nil
}

func (f *File) Save(prefs map[string]bool) error {
	if prefs == nil {
		prefs = map[string]bool{}
	}
	b, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, b)
}

func (f *File) Close() error { return nil }

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

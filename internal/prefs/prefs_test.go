package prefs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeDoc(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func decode(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return doc
}

func TestLoadMissingFileDefaultsTrueWithoutCreating(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config", "qbitpath.json")
	store := New(path, nil)
	if !store.Load() {
		t.Fatal("expected default true")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected document to stay absent, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected directory to stay absent, stat err=%v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want bool
	}{
		{name: "missing key", body: `{"path":"C:\\qb.exe"}`, want: true},
		{name: "explicit false", body: `{"exit_close_qbit": false}`, want: false},
		{name: "explicit true", body: `{"exit_close_qbit": true}`, want: true},
		{name: "string value", body: `{"exit_close_qbit": "no"}`, want: true},
		{name: "invalid json", body: `{"exit_close_qbit": false`, want: true},
		{name: "empty file", body: ``, want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "qbitpath.json")
			writeDoc(t, path, tc.body)
			if got := New(path, nil).Load(); got != tc.want {
				t.Fatalf("Load()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestSavePreservesUnrelatedKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "qbitpath.json")
	writeDoc(t, path, `{"host":"127.0.0.1:8080","ssl":true,"username":"admin","password":"päss","path":"/opt/qb","nested":{"a":[1,2]},"exit_close_qbit":true}`)
	store := New(path, nil)

	if err := store.Save(false); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc := decode(t, path)
	if doc[ExitKey] != false {
		t.Fatalf("expected exit_close_qbit=false, got %v", doc[ExitKey])
	}
	want := map[string]any{"host": "127.0.0.1:8080", "ssl": true, "username": "admin", "password": "päss", "path": "/opt/qb"}
	for k, v := range want {
		if doc[k] != v {
			t.Fatalf("key %q changed: got %v want %v", k, doc[k], v)
		}
	}
	if _, ok := doc["nested"].(map[string]any); !ok {
		t.Fatalf("nested object lost: %v", doc["nested"])
	}
	if store.Load() {
		t.Fatal("expected Load to observe saved false")
	}
}

func TestSaveLoadRoundTripKeepsOtherFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "qbitpath.json")
	writeDoc(t, path, `{"host":"nas:8080","ssl":false,"exit_close_qbit":false}`)
	store := New(path, nil)
	before := decode(t, path)
	if err := store.Save(store.Load()); err != nil {
		t.Fatalf("save: %v", err)
	}
	after := decode(t, path)
	if len(after) != len(before) {
		t.Fatalf("field count changed: %v -> %v", before, after)
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("key %q changed: %v -> %v", k, v, after[k])
		}
	}
}

func TestSaveCreatesDocumentAndDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config", "qbitpath.json")
	store := New(path, nil)
	if err := store.Save(true); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc := decode(t, path)
	if len(doc) != 1 || doc[ExitKey] != true {
		t.Fatalf("unexpected document %v", doc)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestSaveRefusesCorruptDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "qbitpath.json")
	const body = `{"host": "nas", broken`
	writeDoc(t, path, body)
	err := New(path, nil).Save(false)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != body {
		t.Fatalf("corrupt document was modified: %q", data)
	}
}

func TestExecutablePath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "qbitpath.json")
	store := New(path, nil)
	if store.ExecutablePath() != "" {
		t.Fatal("expected empty path for missing document")
	}
	writeDoc(t, path, `{"path":"  /opt/qbittorrent/bin/qbittorrent  "}`)
	if got := store.ExecutablePath(); got != "/opt/qbittorrent/bin/qbittorrent" {
		t.Fatalf("ExecutablePath=%q", got)
	}
}

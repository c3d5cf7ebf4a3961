// Package prefs persists the "quit qBittorrent on exit" preference inside a
// JSON document shared with unrelated settings. Reads never fail and writes
// never disturb keys the store does not own.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"pkt.systems/pslog"
)

const (
	// ExitKey holds the exit preference.
	ExitKey = "exit_close_qbit"
	// PathKey holds the user-configured qBittorrent executable.
	PathKey = "path"
	// DefaultExit applies when the document or key is absent or unreadable.
	DefaultExit = true
)

// ErrCorrupt reports that the existing document is not valid JSON and was left untouched.
var ErrCorrupt = errors.New("prefs: document is not valid JSON")

var prettyOptions = &pretty.Options{Width: 80, Indent: "    "}

// Store reads and writes the shared preference document.
type Store struct {
	path   string
	logger pslog.Logger
}

// New returns a Store for the document at path.
func New(path string, logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Store{path: path, logger: logger}
}

// Load returns the stored exit preference. A missing document, missing key,
// non-boolean value or unreadable document all yield DefaultExit. Load never
// creates the document.
func (s *Store) Load() bool {
	data, ok := s.read()
	if !ok {
		return DefaultExit
	}
	res := gjson.GetBytes(data, ExitKey)
	switch {
	case !res.Exists():
		return DefaultExit
	case res.Type == gjson.True:
		return true
	case res.Type == gjson.False:
		return false
	default:
		s.logger.Warn("prefs.load.invalid_value", "path", s.path, "key", ExitKey, "raw", res.Raw, "default", DefaultExit)
		return DefaultExit
	}
}

// ExecutablePath returns the configured qBittorrent executable, or "" when
// none is configured. Existence on disk is the caller's concern.
func (s *Store) ExecutablePath() string {
	data, ok := s.read()
	if !ok {
		return ""
	}
	return strings.TrimSpace(gjson.GetBytes(data, PathKey).String())
}

// Save merges the exit preference into the document, preserving every other
// key, and replaces the file atomically.
func (s *Store) Save(exit bool) error {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte("{}")
	case err != nil:
		return fmt.Errorf("prefs: read %s: %w", s.path, err)
	case len(strings.TrimSpace(string(data))) == 0:
		data = []byte("{}")
	case !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject():
		return fmt.Errorf("%w: %s", ErrCorrupt, s.path)
	}
	merged, err := sjson.SetBytes(data, ExitKey, exit)
	if err != nil {
		return fmt.Errorf("prefs: set %s: %w", ExitKey, err)
	}
	if err := writeFileAtomic(s.path, pretty.PrettyOptions(merged, prettyOptions), 0o644); err != nil {
		return fmt.Errorf("prefs: write %s: %w", s.path, err)
	}
	s.logger.Debug("prefs.saved", "path", s.path, "key", ExitKey, "value", exit)
	return nil
}

func (s *Store) read() ([]byte, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("prefs.read.failed", "path", s.path, "error", err)
		}
		return nil, false
	}
	if !gjson.ValidBytes(data) {
		s.logger.Warn("prefs.read.invalid_json", "path", s.path)
		return nil, false
	}
	return data, true
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

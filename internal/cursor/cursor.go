// Package cursor persists the sync loop's resume position across restarts.
// The token is process-local recovery state, deliberately kept out of the
// event store.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type state struct {
	SyncToken string `json:"sync_token"`
}

// File stores the last-known resume token in a small JSON file. A missing
// file is a valid state meaning "start from the current server position".
type File struct {
	path string
}

// NewFile creates a cursor backed by the file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load returns the persisted token, or "" when no state has been saved yet.
func (f *File) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading cursor state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("decoding cursor state: %w", err)
	}
	return st.SyncToken, nil
}

// Save durably replaces the persisted token. The write goes to a temp file in
// the same directory followed by a rename, so a crash mid-save leaves either
// the old or the new value, never a torn file.
func (f *File) Save(token string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.Marshal(state{SyncToken: token})
	if err != nil {
		return fmt.Errorf("encoding cursor state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

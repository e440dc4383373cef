package store

import (
	"encoding/json"
	"errors"
	"os"
)

// SnapshotKey names the single persisted document.
const SnapshotKey = "bloom.nip46.sessions.v1"

// readFile best-effort reads path; a missing file returns (nil, nil).
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// writeFile writes via a temp file then rename.
func writeFile(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalSnapshot(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

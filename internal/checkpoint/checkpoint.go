// Package checkpoint persists the last durably processed transaction id
// for a (database, index) pair in a small sidecar file, advanced
// monotonically after every successful sink flush (§3.4, §6.6).
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File is the checkpoint file for one (database, index) pair, rooted at
// dir (CHECKPOINT_PATH, §4.1 "ensure the checkpoint dirpath is valid").
type File struct {
	path string
}

// Open checks that dir exists and is a directory (writability is not
// checked) and returns the checkpoint handle for (database, index); the
// file itself need not exist yet.
func Open(dir, database, index string) (*File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("checkpoint path %q is not a directory", dir)
	}
	return &File{path: filepath.Join(dir, fmt.Sprintf(".%s_%s", database, index))}, nil
}

// Read returns the last saved txid, or 0 if the checkpoint file does not
// exist yet (a fresh bootstrap).
func (f *File) Read() (int64, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read checkpoint %s: %w", f.path, err)
	}
	txid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s: %w", f.path, err)
	}
	return txid, nil
}

// Write durably advances the checkpoint to txid via a write-to-temp then
// rename, so a crash mid-write never leaves a half-written checkpoint file
// behind for the next startup to misread (§4.5.2 "idempotent per-txid").
func (f *File) Write(txid int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := fmt.Fprintf(tmp, "%d", txid); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename checkpoint %s -> %s: %w", tmpPath, f.path, err)
	}
	return nil
}

// Delete removes the checkpoint file, ignoring not-found (§6.5 teardown).
func (f *File) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint %s: %w", f.path, err)
	}
	return nil
}

// Path exposes the resolved checkpoint file path, for logging.
func (f *File) Path() string {
	return f.path
}

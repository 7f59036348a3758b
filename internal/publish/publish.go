package publish

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PublishError reports a failed write of the published file. The previous
// file at Path is left as it was.
type PublishError struct {
	Path string
	Op   string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher replaces a single file at a fixed path.
type Publisher struct {
	Path string
	// Mode is the final file mode; 0644 when zero so a static host can read it.
	Mode fs.FileMode
}

// Result describes a successful publish.
type Result struct {
	Path    string
	SHA256  string
	Bytes   int
	Changed bool // false when the new bytes equal the previous file
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Publish atomically writes data to p.Path: the bytes go to a temp file in
// the same directory, are synced, and the temp file is renamed over the
// target. Readers see either the old or the new file, never a partial one.
func (p *Publisher) Publish(data []byte) (Result, error) {
	if p.Path == "" {
		return Result{}, &PublishError{Path: p.Path, Op: "validate", Err: errors.New("output path is empty")}
	}
	mode := p.Mode
	if mode == 0 {
		mode = 0o644
	}

	res := Result{Path: p.Path, SHA256: Checksum(data), Bytes: len(data), Changed: true}
	if prev, err := os.ReadFile(p.Path); err == nil && bytes.Equal(prev, data) {
		res.Changed = false
	}

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, &PublishError{Path: p.Path, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.Path)+"-*.tmp")
	if err != nil {
		return Result{}, &PublishError{Path: p.Path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error; after rename this is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Result{}, &PublishError{Path: p.Path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Result{}, &PublishError{Path: p.Path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return Result{}, &PublishError{Path: p.Path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return Result{}, &PublishError{Path: p.Path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, p.Path); err != nil {
		return Result{}, &PublishError{Path: p.Path, Op: "rename", Err: err}
	}

	return res, nil
}

// Package blob stores artifact payloads on the local filesystem.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for project ids or filenames that would escape
// the project directory.
var ErrInvalidPath = errors.New("invalid blob path")

// ErrExists is returned by Create when the blob is already present.
var ErrExists = errors.New("blob already exists")

// PutResult describes a stored payload
type PutResult struct {
	Locator string
	SHA256  string
	Size    int
}

// Store is the artifact blob store.
type Store interface {
	Put(ctx context.Context, projectID, filename string, data []byte) (PutResult, error)
	Read(ctx context.Context, locator string) ([]byte, error)
	Exists(ctx context.Context, projectID, filename string) (bool, error)
	Create(ctx context.Context, projectID, filename string, data []byte) (PutResult, error)
}

// Local keeps blobs under <dir>/<projectID>/<filename>. Locators are
// slash-separated paths relative to dir.
type Local struct {
	dir string
}

// NewLocal creates the base directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// SafeProjectID rejects ids containing path separators or "..".
func SafeProjectID(projectID string) error {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return fmt.Errorf("%w: project id %q", ErrInvalidPath, projectID)
	}
	return nil
}

func locator(projectID, filename string) (string, error) {
	if err := SafeProjectID(projectID); err != nil {
		return "", err
	}
	clean := path.Clean(strings.ReplaceAll(filename, `\`, "/"))
	if filename == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidPath, filename)
	}
	return projectID + "/" + clean, nil
}

func (l *Local) resolve(loc string) (string, error) {
	clean := path.Clean(loc)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: locator %q", ErrInvalidPath, loc)
	}
	return filepath.Join(l.dir, filepath.FromSlash(clean)), nil
}

func (l *Local) Put(ctx context.Context, projectID, filename string, data []byte) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	loc, err := locator(projectID, filename)
	if err != nil {
		return PutResult{}, err
	}
	p, err := l.resolve(loc)
	if err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return PutResult{}, err
	}

	// write to a sibling temp file so readers never see a partial payload
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return PutResult{}, err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return PutResult{}, err
	}

	sum := sha256.Sum256(data)
	return PutResult{Locator: loc, SHA256: hex.EncodeToString(sum[:]), Size: len(data)}, nil
}

// Create is Put that never replaces an existing blob. Of two concurrent
// callers exactly one succeeds; the other gets ErrExists.
func (l *Local) Create(ctx context.Context, projectID, filename string, data []byte) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	loc, err := locator(projectID, filename)
	if err != nil {
		return PutResult{}, err
	}
	p, err := l.resolve(loc)
	if err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return PutResult{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".create-*")
	if err != nil {
		return PutResult{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return PutResult{}, err
	}
	if err := tmp.Close(); err != nil {
		return PutResult{}, err
	}
	// link fails if p exists, and p is never seen half-written
	if err := os.Link(tmp.Name(), p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return PutResult{}, fmt.Errorf("%s: %w", loc, ErrExists)
		}
		return PutResult{}, err
	}

	sum := sha256.Sum256(data)
	return PutResult{Locator: loc, SHA256: hex.EncodeToString(sum[:]), Size: len(data)}, nil
}

func (l *Local) Read(ctx context.Context, loc string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(loc)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (l *Local) Exists(ctx context.Context, projectID, filename string) (bool, error) {
	loc, err := locator(projectID, filename)
	if err != nil {
		return false, err
	}
	p, err := l.resolve(loc)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

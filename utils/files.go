package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UniqueFilename derives a collision-proof filename from an uploaded file's
// original name: the base fragment, a random UUID, and the original
// extension. An empty original falls back to a timestamp based name.
func UniqueFilename(original string) string {
	name := filepath.Base(original)
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("file_%d", time.Now().UnixNano())
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + uuid.NewString() + ext
}

// AvatarFilename generates a name for a stored avatar image, keeping only
// the extension of the uploaded file.
func AvatarFilename(original string) string {
	return "avatar" + uuid.NewString() + filepath.Ext(filepath.Base(original))
}

// SaveUpload writes an uploaded file into dir under the given name,
// enforcing limit as a hard byte ceiling. Callers are expected to reject
// oversized uploads from the multipart header before any bytes are written;
// the limited copy here is the backstop for lying clients. On any failure
// the partial file is removed.
func SaveUpload(fh *multipart.FileHeader, dir, name string, limit int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}

	lr := &io.LimitedReader{R: src, N: limit + 1}
	written, err := io.Copy(dst, lr)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return fmt.Errorf("write upload file: %w", err)
	}
	if written > limit {
		_ = os.Remove(dstPath)
		return fmt.Errorf("upload exceeds %d bytes", limit)
	}
	return nil
}

// RemoveUpload deletes a stored upload by name. A file that is already gone
// is not an error; anything else is reported to the caller.
func RemoveUpload(dir, name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

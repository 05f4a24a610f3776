package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// ErrOutsideRoot is returned for file paths that resolve outside the
// source root.
var ErrOutsideRoot = errors.New("path escapes backup root")

// Copier resolves a job's file path and copies it.
type Copier interface {
	// Paths returns the source file and a fresh destination for filePath.
	Paths(filePath string) (src, dst string, err error)
	Copy(ctx context.Context, src, dst string) error
}

// FSCopier copies <SourceRoot>/<file> to "<DestRoot>/<file> - <uuid>".
type FSCopier struct {
	SourceRoot string
	DestRoot   string
}

var _ Copier = FSCopier{}

func (c FSCopier) Paths(filePath string) (string, string, error) {
	rel, err := cleanRelative(filePath)
	if err != nil {
		return "", "", err
	}
	src := filepath.Join(c.SourceRoot, rel)
	dst := filepath.Join(c.DestRoot, rel) + " - " + uuid.NewString()
	return src, dst, nil
}

// Copy writes src to dst, creating parent directories. dst must not exist;
// a partially written dst is removed.
func (c FSCopier) Copy(ctx context.Context, src, dst string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source %s is a directory", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}

// cleanRelative turns a user supplied path into a clean NFC relative path
// that stays below its root.
func cleanRelative(p string) (string, error) {
	p = norm.NFC.String(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	rel := filepath.Clean(strings.TrimLeft(filepath.ToSlash(p), "/"))
	rel = filepath.FromSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, p)
	}
	return rel, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

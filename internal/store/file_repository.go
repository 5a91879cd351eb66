package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/transfa/supporter-service/internal/domain"
)

// FileRepository keeps the subscriber list in a single JSON file.
// Writes go to a temp file in the same directory and are renamed over the
// target, so readers never observe a half-written document.
type FileRepository struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileRepository creates a repository backed by the file at path.
func NewFileRepository(path string, logger *slog.Logger) *FileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRepository{path: path, logger: logger, now: time.Now}
}

// Path returns the backing file path.
func (r *FileRepository) Path() string {
	return r.path
}

// Init writes an empty envelope when the backing file does not exist yet.
func (r *FileRepository) Init(ctx context.Context) error {
	if _, err := os.Stat(r.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	r.logger.Info("initialising empty subscriber store", "path", r.path)
	return r.Save(ctx, nil)
}

// Load reads the full list. A missing file yields an empty list. A corrupt file
// also yields an empty list; it is moved aside so the next save does not destroy it.
// Any other read failure is returned.
func (r *FileRepository) Load(ctx context.Context) ([]domain.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Subscriber{}, nil
		}
		// An unreadable file is not an empty one; saving over it would drop every record.
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	subscribers, err := DecodeSnapshot(data)
	if err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", r.path, r.now().Unix())
		if renameErr := os.Rename(r.path, quarantine); renameErr != nil {
			r.logger.Error("failed to move corrupt subscriber store aside", "path", r.path, "error", renameErr)
		}
		r.logger.Warn("subscriber store is corrupt, using empty list", "path", r.path, "moved_to", quarantine, "error", err)
		return []domain.Subscriber{}, nil
	}
	return subscribers, nil
}

// Save replaces the full list on disk.
func (r *FileRepository) Save(ctx context.Context, subscribers []domain.Subscriber) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeSnapshot(subscribers)
	if err != nil {
		return err
	}
	return WriteFileAtomic(r.path, data)
}

// WriteFileAtomic writes data to a temp file in path's directory and renames it
// over path, so readers see either the old or the new contents.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/transfa/supporter-service/internal/config"
	"github.com/transfa/supporter-service/internal/store"
)

const (
	snapshotPrefix     = "subscribers-"
	snapshotTimeLayout = "20060102-150405"
	snapshotTimeout    = 30 * time.Second
)

// Jobs holds the scheduled maintenance tasks.
type Jobs struct {
	repo   store.Repository
	logger *slog.Logger
	dir    string
	retain int
	now    func() time.Time
}

// NewJobs creates the job set.
func NewJobs(repo store.Repository, logger *slog.Logger, cfg config.Config) *Jobs {
	retain := cfg.SnapshotRetain
	if retain < 1 {
		retain = 1
	}
	return &Jobs{
		repo:   repo,
		logger: logger,
		dir:    cfg.SnapshotDir,
		retain: retain,
		now:    time.Now,
	}
}

// SnapshotSubscribers writes a point-in-time copy of the store and prunes old copies.
func (j *Jobs) SnapshotSubscribers() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	path, err := j.snapshot(ctx)
	if err != nil {
		j.logger.Error("subscriber snapshot failed", "error", err)
		return
	}
	j.logger.Info("subscriber snapshot written", "path", path)

	removed, err := j.prune()
	if err != nil {
		j.logger.Error("failed to prune subscriber snapshots", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("pruned subscriber snapshots", "removed", removed, "retained", j.retain)
	}
}

func (j *Jobs) snapshot(ctx context.Context) (string, error) {
	subscribers, err := j.repo.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load subscribers: %w", err)
	}
	data, err := store.EncodeSnapshot(subscribers)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	name := snapshotPrefix + j.now().UTC().Format(snapshotTimeLayout) + ".json"
	path := filepath.Join(j.dir, name)
	if err := store.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// prune removes the oldest snapshots beyond the retention count. Snapshot
// names sort chronologically. Temp files from an interrupted write do not
// carry the .json suffix and are never counted.
func (j *Jobs) prune() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("read snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), snapshotPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= j.retain {
		return 0, nil
	}
	sort.Strings(names)
	stale := names[:len(names)-j.retain]
	for _, name := range stale {
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
			return 0, fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return len(stale), nil
}

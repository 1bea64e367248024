package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/paper-translate/internal/papers"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/utils"
)

// FSIngestor reads paper records from the local filesystem and adds jobs to
// the store. Records are schema-checked first so a job is never queued for a
// paper the worker cannot load.
type FSIngestor struct {
	Store  repository.JobStore
	Force  bool // reset already queued jobs to pending
	logger *slog.Logger
}

func NewFSIngestor(store repository.JobStore, force bool, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Store: store, Force: force, logger: logger}
}

// check loads the record through the same source the worker uses.
func (i *FSIngestor) check(ctx context.Context, path string) (string, error) {
	id := PaperIDFromPath(path)
	if _, err := papers.NewDirSource(filepath.Dir(path), i.logger).Load(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// IngestPath validates one record and queues it. added is false when the job
// already existed and Force is off.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (Result, bool, error) {
	out := Result{Path: path}
	if !IsPaperFile(path) {
		return out, false, fmt.Errorf("not a paper record: %s", path)
	}
	id, err := i.check(ctx, path)
	out.PaperID = id
	if err != nil {
		out.Err = err.Error()
		return out, false, err
	}
	n, err := i.Store.AddJobs(ctx, []string{id}, i.Force)
	if err != nil {
		out.Err = err.Error()
		return out, false, err
	}
	i.logger.Info("ingest.path.ok", "paper_id", id, "path", path, "added", n == 1)
	return out, n == 1, nil
}

// IngestDirectory walks the top level of root, validates every record and
// queues the valid ones with a single AddJobs call.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}
	start := time.Now()

	var (
		results []Result
		stats   DirStats
		ids     []string
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			results = append(results, Result{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if d.IsDir() {
			if path != root {
				return filepath.SkipDir
			}
			return nil
		}
		stats.Scanned++
		if skipHidden && utils.IsHidden(path) {
			return nil
		}
		if !IsPaperFile(path) {
			return nil
		}
		stats.Matched++

		id, err := i.check(ctx, path)
		if err != nil {
			results = append(results, Result{Path: path, PaperID: id, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, Result{Path: path, PaperID: id})
		ids = append(ids, id)
		stats.Valid++
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}

	if len(ids) > 0 {
		n, err := i.Store.AddJobs(ctx, ids, i.Force)
		if err != nil {
			return results, stats, fmt.Errorf("add jobs: %w", err)
		}
		stats.Added = uint32(n)
		stats.Skipped = stats.Valid - stats.Added
	}

	i.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"valid", stats.Valid,
		"added", stats.Added,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return results, stats, nil
}

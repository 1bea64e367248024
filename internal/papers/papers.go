// Package papers reads harvested paper records and writes translated ones.
// Both directions go through a JSON schema so a malformed harvest or a broken
// record never reaches the translator or the renderer.
package papers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

// Source loads the harvested paper for an id.
type Source interface {
	Load(ctx context.Context, paperID string) (entity.Paper, error)
}

// Sink persists a finished translation record.
type Sink interface {
	Save(ctx context.Context, rec entity.TranslationRecord) error
}

// ErrInvalidPaper wraps schema and consistency failures of a harvested record.
var ErrInvalidPaper = common.NewAppError("INVALID_PAPER", "paper record rejected", common.ErrInvalidInput)

// fileName maps an id to its file name, rejecting ids that would escape the
// directory.
func fileName(paperID string) (string, error) {
	id := strings.TrimSpace(paperID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: bad paper id %q", common.ErrInvalidInput, paperID)
	}
	return id + "." + constants.PaperExtension, nil
}

// DirSource reads <dir>/<id>.json.
type DirSource struct {
	dir    string
	logger *slog.Logger
}

func NewDirSource(dir string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{dir: dir, logger: logger}
}

func (s *DirSource) Load(ctx context.Context, paperID string) (entity.Paper, error) {
	var p entity.Paper
	if err := ctx.Err(); err != nil {
		return p, err
	}
	name, err := fileName(paperID)
	if err != nil {
		return p, err
	}
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, common.NewAppError("PAPER_NOT_FOUND", "no harvested record for "+paperID, common.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("read %s: %w", path, err)
	}
	if err := validate(paperValidator, data); err != nil {
		s.logger.Warn("papers.load.invalid", "paper_id", paperID, "path", path, "error", err)
		return p, fmt.Errorf("%w: %s: %w", ErrInvalidPaper, paperID, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %s: %w", ErrInvalidPaper, paperID, err)
	}
	if p.ID != paperID {
		return p, fmt.Errorf("%w: file %s holds id %q", ErrInvalidPaper, name, p.ID)
	}

	s.logger.Debug("papers.load.ok", "paper_id", paperID, "paragraphs", len(p.Paragraphs))
	return p, nil
}

// DirSink writes <dir>/<id>.json atomically.
type DirSink struct {
	dir    string
	logger *slog.Logger
}

func NewDirSink(dir string, logger *slog.Logger) *DirSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSink{dir: dir, logger: logger}
}

func (s *DirSink) Save(ctx context.Context, rec entity.TranslationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := fileName(rec.ID)
	if err != nil {
		return err
	}
	start := time.Now()

	if rec.BodyEN == nil {
		rec.BodyEN = []string{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	if err := validate(recordValidator, data); err != nil {
		return common.NewAppError("INVALID_RECORD", "translation record rejected: "+rec.ID, errors.Join(common.ErrValidation, err))
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	s.logger.Info("papers.save.ok",
		"paper_id", rec.ID,
		"path", path,
		"publishable", rec.Publishable(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Load reads back a record written by Save.
func (s *DirSink) Load(paperID string) (entity.TranslationRecord, error) {
	var rec entity.TranslationRecord
	name, err := fileName(paperID)
	if err != nil {
		return rec, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return rec, common.NewAppError("RECORD_NOT_FOUND", "no translation for "+paperID, common.ErrNotFound)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode record %s: %w", paperID, err)
	}
	return rec, nil
}

// Package translate turns a harvested paper into an English TranslationRecord,
// keeping math and citation spans byte-for-byte through the model round trip.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/llm"
	"github.com/joseph-ayodele/paper-translate/internal/mathguard"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
)

var (
	// ErrParity means the model dropped or duplicated a mask token.
	ErrParity = errors.New("math token parity violated")
	// ErrLeftoverToken means a mask token survived unmasking.
	ErrLeftoverToken = errors.New("mask token left in output")
	// ErrEmptyOutput means a non-empty field came back empty.
	ErrEmptyOutput = errors.New("empty translation")
	// ErrNoModels means the service has no model to call.
	ErrNoModels = errors.New("no translation models configured")
)

// FieldError attributes a failure to one field of a paper.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// Config holds translation settings.
type Config struct {
	Models          []string // primary first, then fallbacks in order
	Glossary        []common.GlossaryEntry
	BatchParagraphs int     // >1 joins that many paragraphs per call
	MinLengthRatio  float64 // output/input rune ratio below this is a warning
	MaxLengthRatio  float64 // output/input rune ratio above this is a warning
}

type Service struct {
	cfg    Config
	client llm.Translator
	logger *slog.Logger
}

func NewService(cfg Config, client llm.Translator, logger *slog.Logger) *Service {
	if cfg.MinLengthRatio <= 0 {
		cfg.MinLengthRatio = 0.5
	}
	if cfg.MaxLengthRatio <= 0 {
		cfg.MaxLengthRatio = 3.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, client: client, logger: logger}
}

// TranslateField translates one piece of text. With dryRun the masked text is
// used as the model output, which exercises masking and unmasking without a
// network call.
func (s *Service) TranslateField(ctx context.Context, text string, dryRun bool) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	start := time.Now()
	paperID := common.PaperIDFromContext(ctx)

	masked, mappings := mathguard.Mask(text)

	var (
		candidate string
		model     = "dry-run"
	)
	if dryRun {
		candidate = masked
	} else {
		out, used, err := s.callWithFallback(ctx, masked)
		if err != nil {
			metrics.FieldsTranslated.WithLabelValues("error").Inc()
			return "", err
		}
		candidate = llm.CleanTranslation(out)
		model = used
	}

	if err := mathguard.ParityError(mappings, candidate); err != nil {
		metrics.FieldsTranslated.WithLabelValues("parity").Inc()
		s.logger.Warn("translate.field.parity_failed", "paper_id", paperID, "model", model, "tokens", len(mappings), "error", err)
		return "", fmt.Errorf("%w: %w", ErrParity, err)
	}

	out := mathguard.Unmask(candidate, mappings)
	if err := s.check(paperID, text, out); err != nil {
		return "", err
	}

	s.logger.Debug("translate.field.ok",
		"paper_id", paperID,
		"model", model,
		"tokens", len(mappings),
		"in_len", len(text),
		"out_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	metrics.FieldsTranslated.WithLabelValues("ok").Inc()
	return out, nil
}

// callWithFallback walks the model chain. Fallback-eligible errors move on to
// the next model; fatal errors and exhausted retries end the chain.
func (s *Service) callWithFallback(ctx context.Context, masked string) (string, string, error) {
	if len(s.cfg.Models) == 0 {
		return "", "", ErrNoModels
	}
	var lastErr error
	for i, model := range s.cfg.Models {
		out, err := s.client.Translate(ctx, llm.Request{Text: masked, Model: model, Glossary: s.cfg.Glossary})
		if err == nil {
			if i > 0 {
				s.logger.Info("translate.model.fallback_used", "paper_id", common.PaperIDFromContext(ctx), "model", model, "position", i)
			}
			return out, model, nil
		}
		lastErr = err
		if !llm.IsFallback(err) {
			return "", model, err
		}
		s.logger.Warn("translate.model.fallback",
			"paper_id", common.PaperIDFromContext(ctx),
			"model", model,
			"remaining", len(s.cfg.Models)-i-1,
			"error", err,
		)
	}
	return "", "", fmt.Errorf("all %d models failed: %w", len(s.cfg.Models), lastErr)
}

// TranslateRecord translates title, abstract and every body paragraph, in that
// order, and copies the paper's metadata through.
func (s *Service) TranslateRecord(ctx context.Context, paper entity.Paper, dryRun bool) (entity.TranslationRecord, error) {
	ctx = common.WithPaperID(ctx, paper.ID)
	start := time.Now()

	rec := entity.TranslationRecord{
		ID:        paper.ID,
		Creators:  paper.Creators,
		Subjects:  paper.Subjects,
		Date:      paper.Date,
		SourceURL: paper.SourceURL,
		PDFURL:    paper.PDFURL,
	}

	var err error
	if rec.TitleEN, err = s.TranslateField(ctx, paper.Title, dryRun); err != nil {
		return rec, &FieldError{Field: "title", Err: err}
	}
	if rec.AbstractEN, err = s.TranslateField(ctx, paper.Abstract, dryRun); err != nil {
		return rec, &FieldError{Field: "abstract", Err: err}
	}
	if rec.BodyEN, err = s.TranslateParagraphs(ctx, paper.Paragraphs, dryRun); err != nil {
		return rec, err
	}

	s.logger.Info("translate.record.ok",
		"paper_id", paper.ID,
		"paragraphs", len(paper.Paragraphs),
		"dry_run", dryRun,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

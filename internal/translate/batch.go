package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/llm"
)

// batchJoiner surrounds the separator with blank lines so models treat the
// segments as separate paragraphs.
const batchJoiner = "\n\n" + llm.ParagraphSeparator + "\n\n"

// TranslateParagraphs translates paragraphs one-to-one, preserving order.
// Blank paragraphs are kept as they are.
func (s *Service) TranslateParagraphs(ctx context.Context, paragraphs []string, dryRun bool) ([]string, error) {
	out := make([]string, len(paragraphs))

	// indexes of paragraphs that need a model call
	var pending []int
	for i, p := range paragraphs {
		if strings.TrimSpace(p) == "" {
			out[i] = p
			continue
		}
		pending = append(pending, i)
	}

	size := s.cfg.BatchParagraphs
	if size <= 1 {
		size = 1
	}
	for start := 0; start < len(pending); start += size {
		idx := pending[start:min(start+size, len(pending))]
		if err := s.translateGroup(ctx, paragraphs, idx, out, dryRun); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// translateGroup fills out[i] for every i in idx, batching when there is more
// than one.
func (s *Service) translateGroup(ctx context.Context, paragraphs []string, idx []int, out []string, dryRun bool) error {
	if len(idx) > 1 {
		parts, ok, err := s.translateBatch(ctx, paragraphs, idx, dryRun)
		if err != nil {
			return err
		}
		if ok {
			for k, i := range idx {
				out[i] = parts[k]
			}
			return nil
		}
	}
	for _, i := range idx {
		t, err := s.TranslateField(ctx, paragraphs[i], dryRun)
		if err != nil {
			return &FieldError{Field: fmt.Sprintf("body[%d]", i), Err: err}
		}
		out[i] = t
	}
	return nil
}

// translateBatch sends the paragraphs as one call. ok is false when the reply
// does not split back into the same number of non-empty paragraphs; the
// caller then translates them individually instead of merging content.
func (s *Service) translateBatch(ctx context.Context, paragraphs []string, idx []int, dryRun bool) ([]string, bool, error) {
	src := make([]string, len(idx))
	for k, i := range idx {
		src[k] = paragraphs[i]
	}
	joined, err := s.TranslateField(ctx, strings.Join(src, batchJoiner), dryRun)
	if err != nil {
		return nil, false, &FieldError{Field: fmt.Sprintf("body[%d:%d]", idx[0], idx[len(idx)-1]+1), Err: err}
	}

	parts := strings.Split(joined, llm.ParagraphSeparator)
	if len(parts) != len(src) {
		s.logger.Warn("translate.batch.split_mismatch",
			"paper_id", common.PaperIDFromContext(ctx),
			"want", len(src),
			"got", len(parts),
		)
		return nil, false, nil
	}
	for k := range parts {
		parts[k] = unpad(parts[k], k > 0, k < len(parts)-1)
		if !dryRun {
			parts[k] = strings.TrimSpace(parts[k])
		}
		if strings.TrimSpace(parts[k]) == "" {
			s.logger.Warn("translate.batch.empty_segment", "paper_id", common.PaperIDFromContext(ctx), "segment", k)
			return nil, false, nil
		}
	}
	return parts, true, nil
}

// unpad removes the blank lines batchJoiner put around a segment, leaving any
// whitespace that belongs to the paragraph itself.
func unpad(seg string, leading, trailing bool) string {
	const pad = "\n\n"
	if leading {
		seg = strings.TrimPrefix(seg, pad)
	}
	if trailing {
		seg = strings.TrimSuffix(seg, pad)
	}
	return seg
}

package translate

import (
	"fmt"
	"unicode/utf8"

	"github.com/joseph-ayodele/paper-translate/internal/mathguard"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
)

// check runs the post-unmask sanity checks. Empty output and leftover tokens
// are errors; length ratio and citation drift are only logged.
func (s *Service) check(paperID, src, out string) error {
	if utf8.RuneCountInString(out) == 0 {
		metrics.FieldsTranslated.WithLabelValues("empty").Inc()
		return ErrEmptyOutput
	}

	// tokens the source already contained literally are not leftovers
	if left, had := mathguard.LeftoverTokens(out), mathguard.LeftoverTokens(src); len(left) > len(had) {
		metrics.FieldsTranslated.WithLabelValues("leftover").Inc()
		return fmt.Errorf("%w: %v", ErrLeftoverToken, left)
	}

	inLen, outLen := utf8.RuneCountInString(src), utf8.RuneCountInString(out)
	ratio := float64(outLen) / float64(inLen)
	if ratio < s.cfg.MinLengthRatio || ratio > s.cfg.MaxLengthRatio {
		metrics.SanityWarnings.WithLabelValues("length_ratio").Inc()
		s.logger.Warn("translate.check.length_ratio",
			"paper_id", paperID,
			"ratio", fmt.Sprintf("%.2f", ratio),
			"in_runes", inLen,
			"out_runes", outLen,
		)
	}

	if in, got := mathguard.CountCitations(src), mathguard.CountCitations(out); in != got {
		metrics.SanityWarnings.WithLabelValues("citations").Inc()
		s.logger.Warn("translate.check.citation_count", "paper_id", paperID, "source", in, "output", got)
	}
	return nil
}

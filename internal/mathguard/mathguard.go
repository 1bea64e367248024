// Package mathguard masks LaTeX math and citation spans with opaque placeholder
// tokens so a translation model cannot rewrite them, and restores them afterwards.
package mathguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Token glyphs. None of the patterns below can match ⟦ or ⟧, so a token
// substituted by an earlier pattern is never re-matched by a later one.
const (
	tokenOpen   = "⟦"
	tokenClose  = "⟧"
	tokenPrefix = tokenOpen + "MATH_"
)

// TokenPattern matches any placeholder produced by Mask.
var TokenPattern = regexp.MustCompile(`⟦MATH_\d+⟧`)

// Mapping is one masked span.
type Mapping struct {
	Token   string `json:"token"`
	Content string `json:"content"`
}

// mathEnvironments are masked whole, \begin through \end. Go regexp has no
// backreferences, so each name gets its own expression.
var mathEnvironments = []string{
	"equation", "equation*",
	"align", "align*",
	"gather", "gather*",
	"multline", "multline*",
	"eqnarray", "eqnarray*",
	"flalign", "flalign*",
	"alignat", "alignat*",
	"displaymath", "math",
	"split", "cases",
	"array", "matrix", "pmatrix", "bmatrix", "vmatrix",
}

// patterns is the fixed masking order:
//  1. named math environments
//  2. display math $$…$$
//  3. bracket display math \[…\]
//  4. paren inline math \(…\)
//  5. inline math $…$
//  6. citation, reference and label commands
//  7. formatting commands whose arguments are not prose
//
// Environments come first because they may contain $ or \[ themselves, and
// $$ must run before $ or it would be split into two empty inline spans.
var patterns = buildPatterns()

func buildPatterns() []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, env := range mathEnvironments {
		name := regexp.QuoteMeta(env)
		out = append(out, regexp.MustCompile(`\\begin\{`+name+`\}[\s\S]*?\\end\{`+name+`\}`))
	}
	out = append(out,
		regexp.MustCompile(`\$\$[\s\S]+?\$\$`),
		regexp.MustCompile(`\\\[[\s\S]+?\\\]`),
		regexp.MustCompile(`\\\([\s\S]+?\\\)`),
		regexp.MustCompile(`\$(?:\\.|[^$\\\n])+\$`),
		regexp.MustCompile(`\\(?:cite[a-zA-Z]*|ref|eqref|autoref|cref|Cref|pageref|label)\*?(?:\[[^\]]*\])*\{[^}]*\}`),
		regexp.MustCompile(`\\(?:url\{[^}]*\}|href\{[^}]*\}\{[^}]*\}|includegraphics(?:\[[^\]]*\])?\{[^}]*\})`),
	)
	return out
}

// citationPattern counts citation commands for the post-translation sanity check.
var citationPattern = regexp.MustCompile(`\\cite[a-zA-Z]*\*?(?:\[[^\]]*\])*\{`)

// Mask replaces every protected span in text with a fresh token and returns the
// masked text with its mappings in token order. Empty text yields no mappings.
func Mask(text string) (string, []Mapping) {
	if text == "" {
		return "", nil
	}
	var mappings []Mapping
	masked := text
	for _, re := range patterns {
		masked = re.ReplaceAllStringFunc(masked, func(match string) string {
			// A match spanning an earlier token would nest it inside another
			// mapping and break parity; leave that text alone.
			if strings.Contains(match, tokenOpen) {
				return match
			}
			token := fmt.Sprintf("%s%d%s", tokenPrefix, len(mappings), tokenClose)
			mappings = append(mappings, Mapping{Token: token, Content: match})
			return token
		})
	}
	return masked, mappings
}

// Unmask substitutes every token with its original content. Run it only after
// VerifyParity has passed on the same text.
func Unmask(text string, mappings []Mapping) string {
	if len(mappings) == 0 {
		return text
	}
	pairs := make([]string, 0, len(mappings)*2)
	for _, m := range mappings {
		pairs = append(pairs, m.Token, m.Content)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// VerifyParity reports whether every token occurs exactly once in candidate.
func VerifyParity(mappings []Mapping, candidate string) bool {
	return ParityError(mappings, candidate) == nil
}

// ParityError describes which tokens were dropped or duplicated, or returns nil.
func ParityError(mappings []Mapping, candidate string) error {
	var missing, duplicated []string
	for _, m := range mappings {
		switch n := strings.Count(candidate, m.Token); {
		case n == 0:
			missing = append(missing, m.Token)
		case n > 1:
			duplicated = append(duplicated, m.Token)
		}
	}
	if len(missing) == 0 && len(duplicated) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(duplicated)
	return &ParityViolation{Missing: missing, Duplicated: duplicated}
}

// ParityViolation lists the tokens that failed the exactly-once check.
type ParityViolation struct {
	Missing    []string
	Duplicated []string
}

func (e *ParityViolation) Error() string {
	return fmt.Sprintf("math token parity violated: missing=%v duplicated=%v", e.Missing, e.Duplicated)
}

// LeftoverTokens returns placeholder tokens still present in text.
func LeftoverTokens(text string) []string {
	return TokenPattern.FindAllString(text, -1)
}

// CountCitations counts \cite-family commands in text.
func CountCitations(text string) int {
	return len(citationPattern.FindAllStringIndex(text, -1))
}

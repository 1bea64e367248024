package llm

import (
	"regexp"
	"strings"
)

var (
	reFence = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*[ \t]*\r?\n(.*?)\r?\n?```$")
	reLabel = regexp.MustCompile(`(?i)^(?:english\s+)?(?:translation|translated\s+text|译文)\s*[:：]\s*`)
)

// CleanTranslation strips the wrappers chat models sometimes put around an
// answer despite instructions: a surrounding code fence and a leading
// "Translation:" label. The translated text itself is not touched.
func CleanTranslation(s string) string {
	s = strings.TrimSpace(s)
	if m := reFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if loc := reLabel.FindStringIndex(s); loc != nil {
		s = strings.TrimSpace(s[loc[1]:])
	}
	return s
}

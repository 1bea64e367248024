// Package qa is the post-translation gate. It looks for source-script leakage
// and malformed output and decides whether a record may be published.
package qa

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

// Thresholds are the tunable limits of the gate. The ideograph ratio is very
// strict and can flag bilingual captions or romanised names that keep a
// character or two; it is kept as is and adjusted per deployment.
type Thresholds struct {
	IdeographRatio   float64  // per field, ideographs / non-space runes
	PunctuationRatio float64  // per field, full-width CJK punctuation / non-space runes
	MinAbstractRunes int      // shorter abstracts are flagged as formatting problems
	Markers          []string // boilerplate that means page furniture was echoed
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IdeographRatio:   0.001,
		PunctuationRatio: 0.002,
		MinAbstractRunes: 50,
		Markers: []string{
			"作者：", "摘要：", "关键词：", "基金项目：", "收稿日期",
			"中图分类号", "文献标识码", "通讯作者", "引用格式", "DOI：",
		},
	}
}

// cjkPunctuation is the source-script punctuation counted by the gate. Curly
// quotes and dashes are left out, English text uses them too.
const cjkPunctuation = "，。、；：？！（）【】《》「」『』〈〉〔〕．～"

// Issue kinds, used as prefixes of Result.Issues.
const (
	IssueIdeographs  = "chinese_chars"
	IssuePunctuation = "chinese_punctuation"
	IssueMarker      = "untranslated_marker"
	IssueShortAbs    = "abstract_too_short"
)

// Result is the gate's verdict on one record.
type Result struct {
	Status        constants.QAStatus
	Score         float64
	Issues        []string
	FlaggedFields []string
}

// ShouldDisplay reports whether the renderer may publish the record.
func (r Result) ShouldDisplay() bool { return r.Status == constants.QAStatusPass }

type field struct {
	name string
	text string
}

func fields(rec entity.TranslationRecord) []field {
	out := make([]field, 0, len(rec.BodyEN)+2)
	out = append(out, field{"title_en", rec.TitleEN}, field{"abstract_en", rec.AbstractEN})
	for i, p := range rec.BodyEN {
		out = append(out, field{fmt.Sprintf("body_en[%d]", i), p})
	}
	return out
}

// Check runs the gate with DefaultThresholds.
func Check(rec entity.TranslationRecord) Result {
	return DefaultThresholds().Check(rec)
}

// Check inspects every English field of rec. It does no I/O and returns the
// same Result for the same record.
func (t Thresholds) Check(rec entity.TranslationRecord) Result {
	var (
		issues     []string
		flagged    []string
		chinese    bool
		formatting bool
		totalHan   int
		totalRunes int
	)
	flag := func(name string) {
		if len(flagged) == 0 || flagged[len(flagged)-1] != name {
			flagged = append(flagged, name)
		}
	}

	for _, f := range fields(rec) {
		c := count(f.text)
		totalHan += c.han
		totalRunes += c.runes
		if c.runes == 0 {
			continue
		}
		if r := float64(c.han) / float64(c.runes); r > t.IdeographRatio {
			issues = append(issues, fmt.Sprintf("%s:%s:%d", IssueIdeographs, f.name, c.han))
			chinese = true
			flag(f.name)
		}
		if r := float64(c.punct) / float64(c.runes); r > t.PunctuationRatio {
			issues = append(issues, fmt.Sprintf("%s:%s:%d", IssuePunctuation, f.name, c.punct))
			chinese = true
			flag(f.name)
		}
		for _, m := range t.Markers {
			if strings.Contains(f.text, m) {
				issues = append(issues, fmt.Sprintf("%s:%s:%s", IssueMarker, f.name, m))
				chinese = true
				flag(f.name)
			}
		}
	}

	if n := len([]rune(strings.TrimSpace(rec.AbstractEN))); n < t.MinAbstractRunes {
		issues = append(issues, fmt.Sprintf("%s:%d", IssueShortAbs, n))
		formatting = true
		if !slices.Contains(flagged, "abstract_en") {
			flagged = append(flagged, "abstract_en")
		}
	}

	overall := 0.0
	if totalRunes > 0 {
		overall = float64(totalHan) / float64(totalRunes)
	}
	res := Result{
		Status:        constants.QAStatusPass,
		Score:         math.Max(0, 1-overall-0.1*float64(len(issues))),
		Issues:        issues,
		FlaggedFields: flagged,
	}
	switch {
	case chinese:
		res.Status = constants.QAStatusFlagChinese
	case formatting:
		res.Status = constants.QAStatusFlagFormatting
	}
	return res
}

// Annotate writes the verdict into the record's _qa_* fields.
func Annotate(rec *entity.TranslationRecord, res Result) {
	status := string(res.Status)
	score := math.Round(res.Score*1000) / 1000
	rec.QAStatus = &status
	rec.QAScore = &score
	rec.QAIssues = append([]string(nil), res.Issues...)
	rec.QAFlaggedFields = append([]string(nil), res.FlaggedFields...)
}

type counts struct {
	runes int
	han   int
	punct int
}

func count(s string) counts {
	var c counts
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		c.runes++
		switch {
		case unicode.Is(unicode.Han, r):
			c.han++
		case strings.ContainsRune(cjkPunctuation, r):
			c.punct++
		}
	}
	return c
}

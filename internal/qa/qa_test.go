package qa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

const cleanAbstract = "We study sparse attention for long documents and show that a learned routing scheme matches dense baselines at a fraction of the cost."

func cleanRecord() entity.TranslationRecord {
	return entity.TranslationRecord{
		ID:         "chinaxiv-202401.00001",
		TitleEN:    "Sparse Attention for Long Documents",
		AbstractEN: cleanAbstract,
		BodyEN: []string{
			"Transformers scale quadratically with sequence length $O(n^2)$.",
			"We propose a routing scheme \\cite{wang2023}.",
		},
	}
}

func TestCheck_CleanRecordPasses(t *testing.T) {
	res := Check(cleanRecord())
	assert.Equal(t, constants.QAStatusPass, res.Status)
	assert.True(t, res.ShouldDisplay())
	assert.Equal(t, 1.0, res.Score)
	assert.Empty(t, res.Issues)
	assert.Empty(t, res.FlaggedFields)
}

func TestCheck_MarkerInAbstractFlagsChinese(t *testing.T) {
	rec := cleanRecord()
	rec.AbstractEN = "作者：Li Wei. " + cleanAbstract

	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagChinese, res.Status)
	assert.False(t, res.ShouldDisplay())
	assert.Equal(t, []string{"abstract_en"}, res.FlaggedFields)
	assert.Contains(t, res.Issues, IssueMarker+":abstract_en:作者：")
	assert.Less(t, res.Score, 1.0)
}

func TestCheck_ResidualIdeographs(t *testing.T) {
	rec := cleanRecord()
	rec.BodyEN[1] = "We propose a routing scheme 路由 \\cite{wang2023}."

	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagChinese, res.Status)
	assert.Equal(t, []string{"body_en[1]"}, res.FlaggedFields)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, IssueIdeographs+":body_en[1]:2", res.Issues[0])
}

func TestCheck_FullWidthPunctuation(t *testing.T) {
	rec := cleanRecord()
	rec.TitleEN = "Sparse Attention，for Long Documents"

	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagChinese, res.Status)
	assert.Equal(t, []string{"title_en"}, res.FlaggedFields)
	assert.Equal(t, []string{IssuePunctuation + ":title_en:1"}, res.Issues)
}

func TestCheck_ShortAbstractFlagsFormatting(t *testing.T) {
	rec := cleanRecord()
	rec.AbstractEN = "Too short."

	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagFormatting, res.Status)
	assert.False(t, res.ShouldDisplay())
	assert.Equal(t, []string{"abstract_en"}, res.FlaggedFields)
	assert.Equal(t, []string{IssueShortAbs + ":10"}, res.Issues)
	assert.InDelta(t, 0.9, res.Score, 1e-9)
}

func TestCheck_ChineseTakesPrecedenceOverFormatting(t *testing.T) {
	rec := cleanRecord()
	rec.AbstractEN = "摘要：short"

	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagChinese, res.Status)
	assert.Equal(t, []string{"abstract_en"}, res.FlaggedFields)
	assert.GreaterOrEqual(t, len(res.Issues), 3)
}

func TestCheck_ScoreNeverNegative(t *testing.T) {
	rec := entity.TranslationRecord{
		TitleEN:    "标题：，。",
		AbstractEN: "作者：摘要：关键词：基金项目：收稿日期中图分类号",
		BodyEN:     []string{"文献标识码", "通讯作者", "引用格式", "DOI：x"},
	}
	res := Check(rec)
	assert.Equal(t, constants.QAStatusFlagChinese, res.Status)
	assert.Equal(t, 0.0, res.Score)
}

func TestCheck_Deterministic(t *testing.T) {
	rec := cleanRecord()
	rec.AbstractEN = "关键词：x"
	rec.BodyEN = append(rec.BodyEN, "混合 text，here")

	first := Check(rec)
	for range 20 {
		assert.Equal(t, first, Check(rec))
	}
}

func TestCheck_EmptyFieldsAreSkipped(t *testing.T) {
	rec := cleanRecord()
	rec.BodyEN = []string{"", "   "}
	res := Check(rec)
	assert.Equal(t, constants.QAStatusPass, res.Status)
}

func TestThresholds_Tunable(t *testing.T) {
	rec := cleanRecord()
	rec.BodyEN[0] = strings.Repeat("long english prose ", 30) + "李"

	assert.Equal(t, constants.QAStatusFlagChinese, Check(rec).Status)

	loose := DefaultThresholds()
	loose.IdeographRatio = 0.01
	assert.Equal(t, constants.QAStatusPass, loose.Check(rec).Status)
}

func TestAnnotate(t *testing.T) {
	rec := cleanRecord()
	rec.AbstractEN = "Too short."
	res := Check(rec)

	Annotate(&rec, res)
	require.NotNil(t, rec.QAStatus)
	require.NotNil(t, rec.QAScore)
	assert.Equal(t, "flag_formatting", *rec.QAStatus)
	assert.Equal(t, 0.9, *rec.QAScore)
	assert.Equal(t, res.Issues, rec.QAIssues)
	assert.Equal(t, res.FlaggedFields, rec.QAFlaggedFields)
	assert.False(t, rec.Publishable())

	Annotate(&rec, Check(cleanRecord()))
	assert.True(t, rec.Publishable())
}

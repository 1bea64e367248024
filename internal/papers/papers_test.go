package papers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writePaper(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDirSource_Load(t *testing.T) {
	dir := t.TempDir()
	writePaper(t, dir, "p1.json", `{
		"id": "p1",
		"title": "标题",
		"abstract": "摘要",
		"paragraphs": ["第一段", "第二段"],
		"creators": ["Li Wei"],
		"date": "2024-01-02",
		"pdf_url": "https://example.org/p1.pdf"
	}`)

	p, err := NewDirSource(dir, quiet()).Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, entity.Paper{
		ID:         "p1",
		Title:      "标题",
		Abstract:   "摘要",
		Paragraphs: []string{"第一段", "第二段"},
		Creators:   []string{"Li Wei"},
		Date:       "2024-01-02",
		PDFURL:     "https://example.org/p1.pdf",
	}, p)
}

func TestDirSource_Errors(t *testing.T) {
	dir := t.TempDir()
	writePaper(t, dir, "missing-fields.json", `{"id": "missing-fields", "title": "t"}`)
	writePaper(t, dir, "wrong-type.json", `{"id": "wrong-type", "title": "t", "abstract": "a", "paragraphs": "not a list"}`)
	writePaper(t, dir, "other.json", `{"id": "someone-else", "title": "t", "abstract": "a", "paragraphs": []}`)
	writePaper(t, dir, "broken.json", `{"id": `)

	src := NewDirSource(dir, quiet())
	ctx := context.Background()

	tests := []struct {
		id   string
		want error
	}{
		{"missing-fields", common.ErrInvalidInput},
		{"wrong-type", common.ErrInvalidInput},
		{"other", common.ErrInvalidInput},
		{"broken", common.ErrInvalidInput},
		{"absent", common.ErrNotFound},
		{"../escape", common.ErrInvalidInput},
		{"", common.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := src.Load(ctx, tt.id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDirSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDirSource(t.TempDir(), quiet()).Load(ctx, "p1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirSink_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewDirSink(dir, quiet())

	status, score := "flag_chinese", 0.7
	rec := entity.TranslationRecord{
		ID:              "p1",
		TitleEN:         "Title",
		AbstractEN:      "Abstract",
		BodyEN:          []string{"One.", "Two."},
		QAStatus:        &status,
		QAScore:         &score,
		QAIssues:        []string{"untranslated_marker:abstract_en:作者："},
		QAFlaggedFields: []string{"abstract_en"},
	}
	require.NoError(t, sink.Save(context.Background(), rec))

	raw, err := os.ReadFile(filepath.Join(dir, "p1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"_qa_status": "flag_chinese"`)
	assert.Contains(t, string(raw), `"body_en": [`)

	got, err := sink.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.False(t, got.Publishable())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDirSink_UnannotatedRecordOmitsQAFields(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir, quiet())
	require.NoError(t, sink.Save(context.Background(), entity.TranslationRecord{ID: "p2", TitleEN: "T"}))

	raw, err := os.ReadFile(filepath.Join(dir, "p2.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "_qa_")
	assert.Contains(t, string(raw), `"body_en": []`)

	got, err := sink.Load("p2")
	require.NoError(t, err)
	assert.True(t, got.Publishable())
}

func TestDirSink_RejectsInvalidRecord(t *testing.T) {
	sink := NewDirSink(t.TempDir(), quiet())
	bad := "maybe"
	err := sink.Save(context.Background(), entity.TranslationRecord{ID: "p3", QAStatus: &bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = sink.Load("p3")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDirSink_SaveReplacesPreviousRecord(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir, quiet())

	require.NoError(t, sink.Save(context.Background(), entity.TranslationRecord{ID: "p1", TitleEN: "Draft"}))
	require.NoError(t, sink.Save(context.Background(), entity.TranslationRecord{ID: "p1", TitleEN: "Final"}))

	got, err := sink.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, "Final", got.TitleEN)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

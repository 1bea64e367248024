package llm

import (
	"strings"

	"github.com/joseph-ayodele/paper-translate/internal/common"
)

// ParagraphSeparator joins paragraphs sent in one batched call. Models are
// told to keep it verbatim so the reply can be split back.
const ParagraphSeparator = "⟦PARA⟧"

// BuildSystemPrompt composes the system message: register, placeholder
// rules, output hygiene, and the glossary terms that occur in text.
func BuildSystemPrompt(text string, glossary []common.GlossaryEntry) string {
	parts := []string{
		"You are a professional translator of Chinese academic papers into English.",
		"Translate the user's text into fluent, precise academic English.",

		// placeholder rules
		"The text contains placeholders like ⟦MATH_0⟧ that stand for formulas and citations.",
		"Copy every placeholder exactly once and unchanged, at the position that fits the English sentence.",
		"Never translate, renumber, merge, split, or omit a placeholder, and never invent new ones.",
		"If the text contains the separator " + ParagraphSeparator + ", keep every separator exactly as it is and translate the segments between them independently.",

		// formatting hygiene
		"Output only the translation: no explanations, no quotation marks, no labels, no code fences.",
		"Keep author names, numbers, units, and Latin-script terms as written.",
	}

	if terms := RelevantGlossary(text, glossary); len(terms) > 0 {
		var b strings.Builder
		b.WriteString("Use these term translations consistently:")
		for _, e := range terms {
			b.WriteString("\n- ")
			b.WriteString(e.Source)
			b.WriteString(" → ")
			b.WriteString(e.Target)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, " ")
}

// RelevantGlossary keeps the entries whose source term occurs in text, in
// glossary order.
func RelevantGlossary(text string, glossary []common.GlossaryEntry) []common.GlossaryEntry {
	var out []common.GlossaryEntry
	for _, e := range glossary {
		if e.Source != "" && strings.Contains(text, e.Source) {
			out = append(out, e)
		}
	}
	return out
}

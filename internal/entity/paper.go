package entity

import "github.com/joseph-ayodele/paper-translate/constants"

// Paper is the harvested source record handed to the translation service.
type Paper struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	Paragraphs []string `json:"paragraphs"`
	Creators   []string `json:"creators,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`
	Date       string   `json:"date,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
	PDFURL     string   `json:"pdf_url,omitempty"`
}

// TranslationRecord is the English artifact produced for one paper.
type TranslationRecord struct {
	ID         string   `json:"id"`
	TitleEN    string   `json:"title_en"`
	AbstractEN string   `json:"abstract_en"`
	BodyEN     []string `json:"body_en"`
	Creators   []string `json:"creators"`
	Subjects   []string `json:"subjects"`
	Date       string   `json:"date"`
	SourceURL  string   `json:"source_url"`
	PDFURL     string   `json:"pdf_url"`

	QAStatus        *string  `json:"_qa_status,omitempty"`
	QAScore         *float64 `json:"_qa_score,omitempty"`
	QAIssues        []string `json:"_qa_issues,omitempty"`
	QAFlaggedFields []string `json:"_qa_flagged_fields,omitempty"`
}

// Publishable reports whether the renderer may show the record.
func (r TranslationRecord) Publishable() bool {
	return r.QAStatus == nil || *r.QAStatus == string(constants.QAStatusPass)
}

package papers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const paperSchema = `{
  "type": "object",
  "required": ["id", "title", "abstract", "paragraphs"],
  "properties": {
    "id":         {"type": "string", "minLength": 1},
    "title":      {"type": "string"},
    "abstract":   {"type": "string"},
    "paragraphs": {"type": "array", "items": {"type": "string"}},
    "creators":   {"type": "array", "items": {"type": "string"}},
    "subjects":   {"type": "array", "items": {"type": "string"}},
    "date":       {"type": "string"},
    "source_url": {"type": "string"},
    "pdf_url":    {"type": "string"}
  }
}`

const recordSchema = `{
  "type": "object",
  "required": ["id", "title_en", "abstract_en", "body_en"],
  "properties": {
    "id":          {"type": "string", "minLength": 1},
    "title_en":    {"type": "string"},
    "abstract_en": {"type": "string"},
    "body_en":     {"type": "array", "items": {"type": "string"}},
    "creators":    {"type": ["array", "null"], "items": {"type": "string"}},
    "subjects":    {"type": ["array", "null"], "items": {"type": "string"}},
    "_qa_status":  {"enum": ["pass", "flag_chinese", "flag_formatting"]},
    "_qa_score":   {"type": "number", "minimum": 0, "maximum": 1},
    "_qa_issues":  {"type": "array", "items": {"type": "string"}},
    "_qa_flagged_fields": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	paperValidator  = mustCompile("paper.json", paperSchema)
	recordValidator = mustCompile("record.json", recordSchema)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// validate checks raw JSON against schema.
func validate(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

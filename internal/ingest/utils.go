package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/utils"
)

// IsPaperFile reports whether path looks like a harvested record: a visible
// file with the paper extension.
func IsPaperFile(path string) bool {
	if utils.IsHidden(path) {
		return false
	}
	return constants.NormalizeExt(filepath.Ext(path)) == constants.PaperExtension
}

// PaperIDFromPath derives the paper id from a record's file name.
func PaperIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

package constants

import "strings"

// Store backends accepted by STORE_BACKEND.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Backends holds the allowed job store backends.
var Backends = []string{BackendFile, BackendSQLite, BackendPostgres}

// PaperExtension is the extension of harvested paper records and translated artifacts.
const PaperExtension = "json"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

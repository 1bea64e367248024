// Package ingest discovers harvested paper records and queues a job for each.
package ingest

// Result is the per-file ingest outcome.
type Result struct {
	Path    string
	PaperID string
	Err     string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Valid   uint32
	Added   uint32
	Skipped uint32 // already queued
	Failed  uint32
}

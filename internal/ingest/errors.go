package ingest

import (
	"errors"

	"github.com/knollbase/knoll/internal/knowledge"
)

var (
	// ErrUnsupportedFileType indicates an upload whose declared and
	// sniffed types both fall outside the supported set.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrCorruptDocument indicates a document of a supported type that
	// the parser could not read.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrQueueFull indicates the ingestion queue is at capacity and
	// the caller should retry later.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrSuperseded is re-exported from the knowledge store: a newer
	// ingestion of the same document fenced this job out.
	ErrSuperseded = knowledge.ErrSuperseded
)

package knowledge

import "errors"

var (
	// ErrStoreUnavailable indicates the database could not serve the
	// request (connectivity, transaction, or query failure).
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	// ErrSuperseded indicates a document write carried a fence version
	// older than the current one; a newer ingestion of the same
	// document already won.
	ErrSuperseded = errors.New("document version superseded")
)

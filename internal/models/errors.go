package models

import "errors"

var (
	// ErrExtraction indicates the raw content of a gazette file could not be extracted.
	ErrExtraction = errors.New("text extraction failed")

	// ErrTerritoryNotFound indicates a territory slug is absent from the registry.
	ErrTerritoryNotFound = errors.New("territory not found")

	// ErrIndexing indicates a write to the search backend failed.
	ErrIndexing = errors.New("indexing failed")

	// ErrTaskFailed indicates a unit of concurrent work panicked.
	ErrTaskFailed = errors.New("concurrent task failed")
)

package ingest

import "errors"

// Failure categories of the ingestion pipeline. Errors returned by Ingest wrap
// exactly one of these where the failure falls into a category.
var (
	// ErrHashFailure is returned when a file cannot be read to compute its fingerprint.
	ErrHashFailure = errors.New("fingerprint computation failed")

	// ErrIntegrityFailure is returned when the archived copy does not fingerprint
	// equal to its source. The copy is left in place for inspection.
	ErrIntegrityFailure = errors.New("integrity check failed")

	// ErrStorageFailure is returned when the metadata store cannot record the result.
	ErrStorageFailure = errors.New("metadata storage failed")

	// ErrEncryptionFailure is returned when the encrypted copy cannot be written.
	ErrEncryptionFailure = errors.New("encryption failed")

	// ErrUnsupportedMedia is returned for files that are neither photo nor video.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

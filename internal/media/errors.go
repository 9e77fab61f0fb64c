package media

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Errors returned by SavePhoto for input it refuses to store
var (
	// ErrSourceMissing means the source path does not exist
	ErrSourceMissing = errors.New("source file does not exist")
	// ErrFileTooLarge means the source exceeds the configured maximum size
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrNotIncluded means the file name matches no include pattern
	ErrNotIncluded = errors.New("file type not accepted")
	// ErrInvalidOwnerID means the owner id is zero
	ErrInvalidOwnerID = errors.New("owner id must be non-zero")
)

// MediaError reports a failed photo operation on one file
type MediaError struct {
	Op   string
	Path string
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// UploadFailure is one file that could not be uploaded
type UploadFailure struct {
	MediaID  int64
	FileName string
	Err      error
}

// PartialUploadError lists the files that failed in an otherwise completed
// upload batch.
type PartialUploadError struct {
	Uploaded int
	Failures []UploadFailure
	combined error
}

func newPartialUploadError(uploaded int, failures []UploadFailure) *PartialUploadError {
	var combined error
	for _, f := range failures {
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", f.FileName, f.Err))
	}
	return &PartialUploadError{Uploaded: uploaded, Failures: failures, combined: combined}
}

func (e *PartialUploadError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range multierr.Errors(e.combined) {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d of %d uploads failed: %s",
		len(e.Failures), len(e.Failures)+e.Uploaded, strings.Join(msgs, "; "))
}

// Unwrap exposes each failure to errors.Is and errors.As
func (e *PartialUploadError) Unwrap() []error {
	return multierr.Errors(e.combined)
}

// FileNames returns the names of the failed files, in batch order
func (e *PartialUploadError) FileNames() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.FileName
	}
	return names
}

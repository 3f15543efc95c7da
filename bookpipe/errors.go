package bookpipe

import "fmt"

// FormatError reports unrecoverable structural corruption in a source
// document. Path names the offending file so the caller can quarantine it
// and continue with the rest of a batch.
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format error in %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("format error in %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(path, reason string, err error) *FormatError {
	return &FormatError{Path: path, Reason: reason, Err: err}
}

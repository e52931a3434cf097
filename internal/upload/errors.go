package upload

import (
	"fmt"
	"strings"
)

// UploadError is the final failure of one task after retries stopped.
type UploadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// IncompleteError is returned by Publish when at least one task failed.
type IncompleteError struct {
	Failed []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d upload(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

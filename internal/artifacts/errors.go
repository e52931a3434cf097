package artifacts

import "fmt"

// InvalidPathError means an image path is too shallow to carry board,
// project and SoC directories.
type InvalidPathError struct {
	Path     string
	Segments int
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid image path %q: need at least %d directory segments, got %d", e.Path, minSegments, e.Segments)
}

// PatternMismatchError means an image filename does not follow the naming
// scheme implied by its directories.
type PatternMismatchError struct {
	Path     string
	Filename string
	Pattern  string
}

func (e *PatternMismatchError) Error() string {
	return fmt.Sprintf("image filename %q does not match %s (path %s)", e.Filename, e.Pattern, e.Path)
}

// ChecksumError reports a file whose content disagrees with its .sha256 sibling.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

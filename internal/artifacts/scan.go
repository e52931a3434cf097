package artifacts

import (
	"fmt"
	"path/filepath"
	"sort"
)

// GlobPattern returns the pattern matching every image produced for board.
func GlobPattern(outputDir, board string) string {
	return filepath.Join(outputDir, board, "images", "*", "images", "*", "*"+ImageExt)
}

// Scan finds the images produced for board under outputDir. Paths that do
// not parse are returned as errors alongside the descriptors that did;
// results are sorted by path.
func Scan(outputDir, board string) ([]Descriptor, []error) {
	matches, err := filepath.Glob(GlobPattern(outputDir, board))
	if err != nil {
		return nil, []error{fmt.Errorf("failed to scan for images: %w", err)}
	}
	sort.Strings(matches)

	var (
		found []Descriptor
		errs  []error
	)
	for _, m := range matches {
		d, err := Parse(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found = append(found, d)
	}
	return found, errs
}

// Package artifacts derives the identity of produced images from their
// location in the build output tree and lists the companion files that are
// published with each image.
package artifacts

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// minSegments is the number of directories an image path needs: the SoC
// sits five levels above the image.
const minSegments = 5

// ImageExt is the extension of a produced image.
const ImageExt = ".img.gz"

// Descriptor identifies one produced image.
type Descriptor struct {
	Board         string
	SoC           string
	Project       string
	Version       string
	Subversion    string
	BasePath      string // parent of the board directory
	ImageFilename string
}

// SourceDir is the directory holding the image on disk.
func (d Descriptor) SourceDir() string {
	return filepath.Join(d.BasePath, d.Board)
}

// Path is the full on-disk path of the image.
func (d Descriptor) Path() string {
	return filepath.Join(d.SourceDir(), d.ImageFilename)
}

// nameStem is "<project>-[<soc>-]<board>"; the SoC token is dropped when it
// equals the board.
func (d Descriptor) nameStem() string {
	if d.SoC == d.Board || d.SoC == "" {
		return d.Project + "-" + d.Board
	}
	return d.Project + "-" + d.SoC + "-" + d.Board
}

// VersionTag is "<version>-<subversion>[-<suffix>]".
func (d Descriptor) VersionTag(suffix string) string {
	tag := d.Version + "-" + d.Subversion
	if suffix != "" {
		tag += "-" + suffix
	}
	return tag
}

// ImageName is the canonical image filename for d with an optional suffix.
func ImageName(d Descriptor, suffix string) string {
	return d.nameStem() + "-" + d.VersionTag(suffix) + ImageExt
}

// splitDirs returns the non-empty directory segments of dir.
func splitDirs(dir string) []string {
	var out []string
	for _, seg := range strings.Split(filepath.ToSlash(dir), "/") {
		if seg != "" && seg != "." {
			out = append(out, seg)
		}
	}
	return out
}

// filenamePattern matches "<project>-[<soc>-]<board>-<version>-<subversion>[-<suffix>].img.gz".
func filenamePattern(project, soc, board string) *regexp.Regexp {
	stem := regexp.QuoteMeta(project) + "-"
	if soc != board {
		stem += regexp.QuoteMeta(soc) + "-"
	}
	stem += regexp.QuoteMeta(board)
	return regexp.MustCompile(`^` + stem + `-([^-]+)-([^-]+?)(?:-(.+))?` + regexp.QuoteMeta(ImageExt) + `$`)
}

// Parse derives a Descriptor from an image path. Board, project and SoC are
// the last, third-from-last and fifth-from-last directories; version and
// subversion come from the filename.
func Parse(sourceImagePath string) (Descriptor, error) {
	clean := filepath.Clean(sourceImagePath)
	dir, file := filepath.Split(clean)
	dirs := splitDirs(dir)
	if len(dirs) < minSegments {
		return Descriptor{}, &InvalidPathError{Path: sourceImagePath, Segments: len(dirs)}
	}

	n := len(dirs)
	board, project, soc := dirs[n-1], dirs[n-3], dirs[n-5]

	re := filenamePattern(project, soc, board)
	m := re.FindStringSubmatch(file)
	if m == nil {
		return Descriptor{}, &PatternMismatchError{Path: sourceImagePath, Filename: file, Pattern: re.String()}
	}

	return Descriptor{
		Board:         board,
		SoC:           soc,
		Project:       project,
		Version:       m[1],
		Subversion:    m[2],
		BasePath:      filepath.Dir(filepath.Dir(clean)),
		ImageFilename: file,
	}, nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s %s", d.Project, d.Board, d.VersionTag(""))
}

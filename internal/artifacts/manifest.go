package artifacts

import (
	"iter"
	"path"
)

// BootArchive is the boot partition archive published next to each image.
const BootArchive = "boot.tar.xz"

// ChecksumExts are the checksum companions published for the image and the
// boot archive.
var ChecksumExts = []string{".sha256", ".md5"}

// VersionMarker is the file recording the project version for a board.
func VersionMarker(d Descriptor) string {
	return d.Project + ".version"
}

// Subdir is the directory under which the manifest entries live: the board,
// optionally followed by the version tag.
func Subdir(d Descriptor, suffix string, includeVersion bool) string {
	if !includeVersion {
		return d.Board
	}
	return path.Join(d.Board, d.VersionTag(suffix))
}

// Manifest yields the seven relative paths published for an image, in order:
// the image and its two checksums, the boot archive and its two checksums,
// then the version marker. Paths use forward slashes.
//
// With includeVersion unset and no suffix the image keeps the filename it
// was found under, so the listing doubles as the on-disk source layout.
func Manifest(d Descriptor, suffix string, includeVersion bool) iter.Seq[string] {
	dir := Subdir(d, suffix, includeVersion)
	image := ImageName(d, suffix)
	if !includeVersion && suffix == "" && d.ImageFilename != "" {
		image = d.ImageFilename
	}

	entries := make([]string, 0, 7)
	for _, base := range []string{image, BootArchive} {
		p := path.Join(dir, base)
		entries = append(entries, p)
		for _, ext := range ChecksumExts {
			entries = append(entries, p+ext)
		}
	}
	entries = append(entries, path.Join(dir, VersionMarker(d)))

	return func(yield func(string) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

package upload

import (
	"errors"
	"iter"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schererja/boardforge/internal/artifacts"
	"github.com/schererja/boardforge/internal/storage"
)

// Task uploads one local file to one remote key.
type Task struct {
	Image       string // source image filename the file belongs to
	LocalPath   string
	Key         string
	ContentType string
	Size        int64
}

// Plan is the set of tasks derived from the images found for a board.
type Plan struct {
	Images  []artifacts.Descriptor
	Tasks   []Task
	Missing []string // local manifest entries that do not exist
	Invalid []error  // image paths that could not be parsed
}

// Bytes is the total size of all tasks.
func (p *Plan) Bytes() int64 {
	var n int64
	for _, t := range p.Tasks {
		n += t.Size
	}
	return n
}

var contentTypes = map[string]string{
	".gz":      "application/gzip",
	".xz":      "application/x-xz",
	".sha256":  "text/plain",
	".md5":     "text/plain",
	".version": "text/plain",
}

// ContentType guesses a MIME type from the file extension. It returns an
// empty string when nothing is known.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// BuildPlan scans outputDir for the board's images and pairs every source
// manifest entry with its destination entry under loc.
func BuildPlan(outputDir, board, suffix string, loc storage.Location) (*Plan, error) {
	if board == "" {
		return nil, errors.New("board is required")
	}
	images, invalid := artifacts.Scan(outputDir, board)
	plan := &Plan{Images: images, Invalid: invalid}

	for _, d := range images {
		for src, dst := range zip(artifacts.Manifest(d, "", false), artifacts.Manifest(d, suffix, true)) {
			local := filepath.Join(d.BasePath, filepath.FromSlash(src))
			info, err := os.Stat(local)
			if err != nil || !info.Mode().IsRegular() {
				plan.Missing = append(plan.Missing, local)
				continue
			}
			plan.Tasks = append(plan.Tasks, Task{
				Image:       d.ImageFilename,
				LocalPath:   local,
				Key:         loc.Key(dst),
				ContentType: ContentType(dst),
				Size:        info.Size(),
			})
		}
	}
	return plan, nil
}

// zip pairs two sequences element by element, stopping at the shorter.
func zip[A, B any](a iter.Seq[A], b iter.Seq[B]) iter.Seq2[A, B] {
	return func(yield func(A, B) bool) {
		next, stop := iter.Pull(b)
		defer stop()
		for x := range a {
			y, ok := next()
			if !ok || !yield(x, y) {
				return
			}
		}
	}
}

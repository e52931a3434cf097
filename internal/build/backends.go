package build

// Storage backends register themselves for their bucket URL schemes.
import (
	_ "github.com/schererja/boardforge/internal/storage/azure"
	_ "github.com/schererja/boardforge/internal/storage/local"
	_ "github.com/schererja/boardforge/internal/storage/s3"
)

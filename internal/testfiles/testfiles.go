// Package testfiles locates and generates the fixture files uploaded by the
// file, workflow and knowledge scenarios.
package testfiles

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/studiowebux/difyload/internal/types"
)

// DefaultDir is the fixture directory used when none is configured
const DefaultDir = "test_files"

const (
	imageLimit = 10 * 1024 * 1024
	audioLimit = 50 * 1024 * 1024
	videoLimit = 100 * 1024 * 1024
	otherLimit = 15 * 1024 * 1024
)

// File is a fixture ready to be uploaded
type File struct {
	Category types.FileCategory
	Path     string
	Name     string
	MIMEType string
	Size     int64
}

type fixture struct {
	name     string
	mimeType string
}

var fixtures = map[types.FileCategory]fixture{
	types.FileDocument: {name: "sample.txt", mimeType: "text/plain"},
	types.FileImage:    {name: "sample.jpg", mimeType: "image/jpeg"},
	types.FileAudio:    {name: "sample.mp3", mimeType: "audio/mpeg"},
}

// Set is a directory of fixtures
type Set struct {
	Dir string
}

// NewSet returns the fixture set rooted at dir
func NewSet(dir string) Set {
	if dir == "" {
		dir = DefaultDir
	}
	return Set{Dir: dir}
}

// Lookup returns the fixture for a category. It reports false when the file
// is missing or larger than the limit for its MIME class.
func (s Set) Lookup(category types.FileCategory) (File, bool) {
	fx, ok := fixtures[category]
	if !ok {
		return File{}, false
	}

	path := filepath.Join(s.Dir, fx.name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return File{}, false
	}
	if !WithinLimit(path, info.Size()) {
		return File{}, false
	}

	return File{
		Category: category,
		Path:     path,
		Name:     fx.name,
		MIMEType: fx.mimeType,
		Size:     info.Size(),
	}, true
}

// WithinLimit checks a file size against the upload limit for its MIME class.
// Files whose type cannot be guessed from the extension are rejected.
func WithinLimit(path string, size int64) bool {
	mimeType := typeByExtension(filepath.Ext(path))
	if mimeType == "" {
		return false
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return size <= imageLimit
	case strings.HasPrefix(mimeType, "audio/"):
		return size <= audioLimit
	case strings.HasPrefix(mimeType, "video/"):
		return size <= videoLimit
	default:
		return size <= otherLimit
	}
}

var knownTypes = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// typeByExtension does not depend on the host's mime.types for the
// fixture formats
func typeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// Generate writes the three fixtures into dir, creating it if needed, and
// returns the paths written
func Generate(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	image, err := renderChart()
	if err != nil {
		return nil, fmt.Errorf("failed to render image: %w", err)
	}

	contents := []struct {
		category types.FileCategory
		data     []byte
	}{
		{types.FileDocument, []byte(sampleText)},
		{types.FileImage, image},
		{types.FileAudio, silentMP3(2)},
	}

	paths := make([]string, 0, len(contents))
	for _, c := range contents {
		path := filepath.Join(dir, fixtures[c.category].name)
		if err := os.WriteFile(path, c.data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

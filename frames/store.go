// Package frames manages the per-camera directories of numbered JPEG files
// written by the decoders.
package frames

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	frameExt = ".jpg"
	// FilePattern is the decoder output template inside a camera directory.
	FilePattern = "frame_%06d" + frameExt
)

// Store is rooted at the frame root directory. Read and delete failures are
// logged and absorbed; callers see zero frames or a no-op.
type Store struct {
	root string
	log  zerolog.Logger
}

func NewStore(root string, log zerolog.Logger) *Store {
	return &Store{root: root, log: log}
}

func (s *Store) Root() string {
	return s.root
}

// Dir is the frame directory of cameraID. The ID must already be validated.
func (s *Store) Dir(cameraID string) string {
	return filepath.Join(s.root, cameraID)
}

// Template is the decoder output path template for dir.
func (s *Store) Template(dir string) string {
	return filepath.Join(dir, FilePattern)
}

// Ensure creates dir if needed.
func (s *Store) Ensure(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func isFrame(e fs.DirEntry) bool {
	return !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), frameExt)
}

func (s *Store) frames(dir string) []fs.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("dir", dir).Msg("could not list frames")
		}
		return nil
	}

	out := entries[:0]
	for _, e := range entries {
		if isFrame(e) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of frame files in dir, 0 if it is missing or unreadable.
func (s *Store) Count(dir string) int {
	return len(s.frames(dir))
}

// Latest returns the frame with the newest modification time. Ties go to the
// lexically greater name, which is the higher sequence number.
func (s *Store) Latest(dir string) (path string, modTime time.Time, ok bool) {
	var bestName string
	for _, e := range s.frames(dir) {
		info, err := e.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		mt := info.ModTime()
		if !ok || mt.After(modTime) || (mt.Equal(modTime) && e.Name() > bestName) {
			bestName, modTime, ok = e.Name(), mt, true
		}
	}
	if !ok {
		return "", time.Time{}, false
	}
	return filepath.Join(dir, bestName), modTime, true
}

// Clear deletes every frame file in dir. Missing directories are a no-op and
// individual unlink failures are only logged.
func (s *Store) Clear(dir string) {
	entries := s.frames(dir)
	removed := 0
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("file", p).Msg("could not remove frame")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Str("dir", dir).Int("removed", removed).Msg("cleaned up frames")
	}
}

// CameraDirs lists the directory names directly under the root.
func (s *Store) CameraDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists reports whether dir is an existing directory.
func Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

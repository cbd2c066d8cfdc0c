// Package content owns the on-disk side of guides: one directory per guide
// holding numbered screenshot files and the rich-metadata document.
//
// LAYOUT:
//
//	<root>/
//	  guide_<id>/
//	    step_1.png
//	    step_2.png
//	    rich_steps.json
//	  .locks/
//	    guide_<id>.lock
//
// Paths handed out by this package (Step.ScreenshotPath) are relative to the
// root, so they stay valid if the root moves and never reveal where the data
// lives on the server.
package content

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/rs/xid"
)

const (
	guideDirPrefix = "guide_"
	lockDirName    = ".locks"
)

// ErrInvalidPath is returned for guide ids or relative paths that would escape
// the content root.
var ErrInvalidPath = errors.New("content: invalid path")

// Store manages guide directories under a single root.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the root (and its lock directory) if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("content: resolving root %s: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, lockDirName), 0755); err != nil {
		return nil, fmt.Errorf("content: creating root: %w", err)
	}
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute content root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the absolute directory for a guide.
func (s *Store) Dir(guideID string) (string, error) {
	if err := checkGuideID(guideID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, guideDirPrefix+guideID), nil
}

// Ensure creates the guide directory if it does not exist.
func (s *Store) Ensure(guideID string) error {
	dir, err := s.Dir(guideID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("content: creating %s: %w", filepath.Base(dir), err)
	}
	return nil
}

// Replace discards the guide directory and recreates it empty.
//
// The old directory is first renamed out of the way, so the guide path flips
// from "old contents" to "empty" in one step; the renamed copy is then
// removed. Leftovers from a crash between the two steps start with ".trash-"
// and are never read.
func (s *Store) Replace(guideID string) error {
	dir, err := s.Dir(guideID)
	if err != nil {
		return err
	}

	trash := filepath.Join(s.root, ".trash-"+filepath.Base(dir)+"-"+xid.New().String())
	switch err := os.Rename(dir, trash); {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		trash = ""
	default:
		return fmt.Errorf("content: moving %s aside: %w", filepath.Base(dir), err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("content: recreating %s: %w", filepath.Base(dir), err)
	}

	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			s.logger.Warn("failed to remove replaced guide directory",
				slog.String("guideID", guideID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Destroy removes the guide directory and its lock file.
func (s *Store) Destroy(guideID string) error {
	dir, err := s.Dir(guideID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("content: removing %s: %w", filepath.Base(dir), err)
	}
	s.RemoveLock(guideID)
	return nil
}

// ScreenshotName is the file name for a step's screenshot.
func ScreenshotName(stepNumber int) string {
	return fmt.Sprintf("step_%d.png", stepNumber)
}

// WriteScreenshot stores img as the PNG for the given step and returns its
// path relative to the root.
func (s *Store) WriteScreenshot(guideID string, stepNumber int, img image.Image) (string, error) {
	if stepNumber < 1 {
		return "", fmt.Errorf("content: step number %d out of range", stepNumber)
	}
	dir, err := s.Dir(guideID)
	if err != nil {
		return "", err
	}

	name := ScreenshotName(stepNumber)
	err = atomicWrite(filepath.Join(dir, name), func(tmp string) error {
		return gg.SavePNG(tmp, img)
	})
	if err != nil {
		return "", fmt.Errorf("content: writing %s: %w", name, err)
	}
	return filepath.ToSlash(filepath.Join(filepath.Base(dir), name)), nil
}

// Resolve turns a stored relative path into an absolute one and checks that
// it is a readable regular file.
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrInvalidPath
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("content: opening %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("content: stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("content: %s is not a regular file", rel)
	}
	return abs, nil
}

// atomicWrite calls write with a temporary path next to dest and renames the
// result over dest, so readers never see a half-written file.
func atomicWrite(dest string, write func(tmp string) error) error {
	f, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()

	success := false
	defer func() {
		if !success {
			os.Remove(tmp)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// checkGuideID rejects ids that could be used to walk out of the root.
func checkGuideID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("%w: guide id %q", ErrInvalidPath, id)
	}
	return nil
}

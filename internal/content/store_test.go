package content

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fogleman/gg"

	"github.com/sakif/stepguide/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{10, 20, 30, 255})
		}
	}
	return img
}

// =============================================================================
// Directory lifecycle
// =============================================================================

func TestEnsureCreatesDirectory(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ensure("g1"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	// Second call is a no-op.
	if err := s.Ensure("g1"); err != nil {
		t.Fatalf("Ensure() second call error: %v", err)
	}

	info, err := os.Stat(filepath.Join(s.Root(), "guide_g1"))
	if err != nil {
		t.Fatalf("stat guide dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("guide_g1 is not a directory")
	}
}

func TestReplaceEmptiesDirectory(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}
	for n := 1; n <= 3; n++ {
		if _, err := s.WriteScreenshot("g1", n, solid(4, 4)); err != nil {
			t.Fatalf("WriteScreenshot(%d) error: %v", n, err)
		}
	}

	if err := s.Replace("g1"); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "guide_g1"))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("directory has %d entries after Replace, want 0", len(entries))
	}

	// No trash directories are left behind.
	rootEntries, _ := os.ReadDir(s.Root())
	for _, e := range rootEntries {
		if e.Name() != "guide_g1" && e.Name() != lockDirName {
			t.Errorf("unexpected leftover %q in root", e.Name())
		}
	}
}

func TestReplaceMissingDirectory(t *testing.T) {
	s := newTestStore(t)

	if err := s.Replace("fresh"); err != nil {
		t.Fatalf("Replace() on missing dir error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "guide_fresh")); err != nil {
		t.Errorf("guide dir not created: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteScreenshot("g1", 1, solid(2, 2)); err != nil {
		t.Fatal(err)
	}

	if err := s.Destroy("g1"); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "guide_g1")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("guide dir still exists, stat err = %v", err)
	}

	// Destroying twice is fine.
	if err := s.Destroy("g1"); err != nil {
		t.Errorf("second Destroy() error: %v", err)
	}
}

func TestInvalidGuideIDs(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "..", ".hidden", "a/b", `a\b`, "../escape"} {
		if err := s.Ensure(id); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Ensure(%q) error = %v, want ErrInvalidPath", id, err)
		}
	}
}

// =============================================================================
// Screenshots
// =============================================================================

func TestWriteScreenshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}

	rel, err := s.WriteScreenshot("g1", 2, solid(8, 6))
	if err != nil {
		t.Fatalf("WriteScreenshot() error: %v", err)
	}
	if rel != "guide_g1/step_2.png" {
		t.Errorf("relative path = %q, want %q", rel, "guide_g1/step_2.png")
	}

	abs, err := s.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	img, err := gg.LoadPNG(abs)
	if err != nil {
		t.Fatalf("LoadPNG() error: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(8, 6) {
		t.Errorf("image size = %v, want (8,6)", got)
	}

	// Only the final file is left, no temp files.
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "guide_g1"))
	if len(entries) != 1 {
		t.Errorf("guide dir has %d entries, want 1", len(entries))
	}
}

func TestWriteScreenshotRejectsBadStepNumber(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteScreenshot("g1", 0, solid(1, 1)); err == nil {
		t.Error("WriteScreenshot(step 0) expected error, got nil")
	}
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../outside.png", true},
		{"root itself", ".", true},
		{"missing file", "guide_g1/step_9.png", true},
		{"directory", "guide_g1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Resolve(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Errorf("Resolve(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Rich metadata
// =============================================================================

func TestRichMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}

	in := map[int]model.RichStep{
		1: {Action: "click", Target: json.RawMessage(`{"text":"Save"}`)},
		3: {Action: "type"},
	}
	if err := s.WriteRichMetadata("g1", in); err != nil {
		t.Fatalf("WriteRichMetadata() error: %v", err)
	}

	got := s.ReadRichMetadata("g1")
	if len(got) != 2 {
		t.Fatalf("ReadRichMetadata() returned %d entries, want 2", len(got))
	}
	if got[1].Action != "click" || string(got[1].Target) != `{"text":"Save"}` {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if got[3].Action != "type" {
		t.Errorf("entry 3 action = %q, want %q", got[3].Action, "type")
	}
}

func TestReadRichMetadataMissingOrCorrupt(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ensure("g1"); err != nil {
		t.Fatal(err)
	}

	if got := s.ReadRichMetadata("g1"); got != nil {
		t.Errorf("missing document: got %v, want nil", got)
	}

	path := filepath.Join(s.Root(), "guide_g1", RichMetadataFile)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := s.ReadRichMetadata("g1"); got != nil {
		t.Errorf("corrupt document: got %v, want nil", got)
	}
}

func TestMergeRichMetadata(t *testing.T) {
	steps := []model.Step{
		{StepNumber: 1, Instruction: "first"},
		{StepNumber: 2, Instruction: "second"},
	}

	MergeRichMetadata(steps, map[int]model.RichStep{
		2: {Action: "hover"},
		7: {Action: "orphan"},
	})

	if steps[0].Action != "" {
		t.Errorf("step 1 action = %q, want empty", steps[0].Action)
	}
	if steps[1].Action != "hover" {
		t.Errorf("step 2 action = %q, want %q", steps[1].Action, "hover")
	}

	// nil document leaves steps untouched.
	MergeRichMetadata(steps, nil)
	if steps[1].Action != "hover" {
		t.Error("nil merge modified steps")
	}
}

// =============================================================================
// Locking
// =============================================================================

func TestLockIsExclusive(t *testing.T) {
	s := newTestStore(t)

	unlock, err := s.Lock(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.Lock(ctx, "g1"); err == nil {
		t.Fatal("second Lock() succeeded while first was held")
	}

	// A different guide is independent.
	unlockOther, err := s.Lock(context.Background(), "g2")
	if err != nil {
		t.Fatalf("Lock(g2) error: %v", err)
	}
	unlockOther()

	unlock()

	unlockAgain, err := s.Lock(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	unlockAgain()
}

func TestRemoveLock(t *testing.T) {
	s := newTestStore(t)

	unlock, err := s.Lock(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if _, err := os.Stat(s.lockPath("g1")); err != nil {
		t.Fatalf("lock file missing while held: %v", err)
	}

	s.RemoveLock("g1")
	unlock()

	if _, err := os.Stat(s.lockPath("g1")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after RemoveLock: %v", err)
	}

	// Missing files and malformed ids are ignored.
	s.RemoveLock("g1")
	s.RemoveLock("../escape")
}

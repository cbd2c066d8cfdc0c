package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/stepguide/internal/model"
)

// RichMetadataFile is the per-guide document holding step fields that are not
// columns in the steps table.
const RichMetadataFile = "rich_steps.json"

// CONSISTENCY:
// The steps table is the primary record and this document is a secondary
// index keyed by step number. It is rewritten in full whenever the steps are,
// and the last writer wins. Readers always load the table first and overlay
// this document second (MergeRichMetadata), so a missing or stale document can
// only drop or age the action/target fields, never hide a step.

// WriteRichMetadata replaces the guide's rich-metadata document.
func (s *Store) WriteRichMetadata(guideID string, steps map[int]model.RichStep) error {
	dir, err := s.Dir(guideID)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = map[int]model.RichStep{}
	}

	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return fmt.Errorf("content: encoding rich metadata: %w", err)
	}

	err = atomicWrite(filepath.Join(dir, RichMetadataFile), func(tmp string) error {
		return os.WriteFile(tmp, data, 0644)
	})
	if err != nil {
		return fmt.Errorf("content: writing rich metadata: %w", err)
	}
	return nil
}

// ReadRichMetadata loads the guide's rich-metadata document. A missing or
// unreadable document yields nil: callers fall back to the relational fields.
func (s *Store) ReadRichMetadata(guideID string) map[int]model.RichStep {
	dir, err := s.Dir(guideID)
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(dir, RichMetadataFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read rich metadata",
				slog.String("guideID", guideID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	var steps map[int]model.RichStep
	if err := json.Unmarshal(data, &steps); err != nil {
		s.logger.Warn("ignoring corrupt rich metadata",
			slog.String("guideID", guideID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return steps
}

// MergeRichMetadata overlays action/target onto steps by step number. Steps
// without an entry are left as they are.
func MergeRichMetadata(steps []model.Step, rich map[int]model.RichStep) {
	if len(rich) == 0 {
		return
	}
	for i := range steps {
		entry, ok := rich[steps[i].StepNumber]
		if !ok {
			continue
		}
		steps[i].Action = entry.Action
		steps[i].Target = entry.Target
	}
}

// Hydrate reads the guide's document and merges it into g.Steps.
func (s *Store) Hydrate(g *model.Guide) {
	MergeRichMetadata(g.Steps, s.ReadRichMetadata(g.ID))
}

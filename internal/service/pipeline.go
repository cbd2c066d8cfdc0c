package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/stepguide/internal/highlight"
	"github.com/sakif/stepguide/internal/model"
)

// buildSteps turns validated inputs into Step rows for guideID, writing each
// screenshot (highlighted when a box was drawn) into the guide's directory.
//
// STEP PIPELINE, per step with a screenshot:
//
//	decode → Normalize box to image pixels → Composite → WriteScreenshot (PNG)
//
// Screenshots are independent, so they are processed concurrently (bounded
// by s.workers). A failure in one step's pipeline is logged and leaves that
// step without a screenshot; it never fails the guide. Only cancellation of
// ctx aborts the whole build.
//
// The stored Highlight is always the raw box as supplied; scaling only
// affects the pixels drawn.
func (s *GuideService) buildSteps(ctx context.Context, guideID string, inputs []model.StepInput) ([]model.Step, error) {
	steps := make([]model.Step, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, in := range inputs {
		n := i + 1
		steps[i] = model.Step{
			GuideID:     guideID,
			StepNumber:  n,
			Selector:    in.Selector,
			Instruction: in.Instruction,
			Action:      in.Action,
			Target:      in.Target,
		}
		if in.Highlight != nil {
			raw := in.Highlight.Raw()
			steps[i].Highlight = &raw
		}
		if in.Screenshot == "" {
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := s.storeScreenshot(guideID, n, in)
			if err != nil {
				s.logger.Warn("skipping step screenshot",
					slog.String("guideID", guideID),
					slog.Int("step", n),
					slog.String("error", err.Error()),
				)
				return nil
			}
			steps[i].ScreenshotPath = path
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing screenshots: %w", err)
	}
	return steps, nil
}

func (s *GuideService) storeScreenshot(guideID string, n int, in model.StepInput) (string, error) {
	img, err := highlight.DecodeScreenshot(in.Screenshot)
	if err != nil {
		return "", err
	}
	if in.Highlight != nil {
		size := img.Bounds().Size()
		box := highlight.Normalize(size, *in.Highlight)
		if highlight.Valid(size, box) {
			img = highlight.Composite(img, box)
		} else {
			s.logger.Warn("highlight falls outside screenshot, storing it unmarked",
				slog.String("guideID", guideID),
				slog.Int("step", n),
			)
		}
	}
	return s.content.WriteScreenshot(guideID, n, img)
}

// richMetadata collects the sidecar document for steps.
func richMetadata(steps []model.Step) map[int]model.RichStep {
	rich := make(map[int]model.RichStep, len(steps))
	for _, st := range steps {
		if st.Action == "" && len(st.Target) == 0 {
			continue
		}
		rich[st.StepNumber] = model.RichStep{Action: st.Action, Target: st.Target}
	}
	return rich
}

// writeRichMetadata is best-effort: the steps table stays authoritative.
func (s *GuideService) writeRichMetadata(guideID string, steps []model.Step) {
	if err := s.content.WriteRichMetadata(guideID, richMetadata(steps)); err != nil {
		s.logger.Warn("failed to write rich metadata",
			slog.String("guideID", guideID),
			slog.String("error", err.Error()),
		)
	}
}

package service

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/stepguide/internal/apperror"
	"github.com/sakif/stepguide/internal/highlight"
	"github.com/sakif/stepguide/internal/model"
)

// Validation limits. Lengths are in characters, not bytes.
const (
	MaxNameLength        = 200
	MaxShortcutLength    = 64
	MaxDescriptionLength = 10000
	MaxSelectorLength    = 2000
	MaxInstructionLength = 5000
	MaxSteps             = 200
	MaxSharedEmails      = 100
)

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "guide name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("guide name must be %d characters or less", MaxNameLength))
	}
	return name, nil
}

func validateShortcut(shortcut string) (string, error) {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return "", apperror.ValidationFailed("shortcut", "shortcut is required")
	}
	if utf8.RuneCountInString(shortcut) > MaxShortcutLength {
		return "", apperror.ValidationFailed("shortcut",
			fmt.Sprintf("shortcut must be %d characters or less", MaxShortcutLength))
	}
	if strings.IndexFunc(shortcut, unicode.IsSpace) >= 0 {
		return "", apperror.ValidationFailed("shortcut", "shortcut must not contain whitespace")
	}
	return shortcut, nil
}

func validateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	return description, nil
}

// validateEmails trims, drops blanks and de-duplicates, keeping first-seen
// order. Case is preserved: grants match exactly.
func validateEmails(emails []string) ([]string, error) {
	if len(emails) > MaxSharedEmails {
		return nil, apperror.ValidationFailed("sharedWith",
			fmt.Sprintf("a guide can be shared with at most %d emails", MaxSharedEmails))
	}
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		at := strings.IndexByte(e, '@')
		if at <= 0 || at == len(e)-1 || strings.IndexFunc(e, unicode.IsSpace) >= 0 {
			return nil, apperror.ValidationFailed("sharedWith", fmt.Sprintf("%q is not a valid email", e))
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func validateSteps(steps []model.StepInput) error {
	if len(steps) > MaxSteps {
		return apperror.ValidationFailed("steps", fmt.Sprintf("a guide can have at most %d steps", MaxSteps))
	}
	for i := range steps {
		s := &steps[i]
		n := i + 1
		s.Selector = strings.TrimSpace(s.Selector)
		s.Instruction = strings.TrimSpace(s.Instruction)
		s.Action = strings.TrimSpace(s.Action)
		if t := bytes.TrimSpace(s.Target); len(t) == 0 || bytes.Equal(t, []byte("null")) {
			s.Target = nil
		}

		if s.Selector == "" {
			return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: selector is required", n))
		}
		if utf8.RuneCountInString(s.Selector) > MaxSelectorLength {
			return apperror.ValidationFailed("steps",
				fmt.Sprintf("step %d: selector must be %d characters or less", n, MaxSelectorLength))
		}
		if s.Instruction == "" {
			return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: instruction is required", n))
		}
		if utf8.RuneCountInString(s.Instruction) > MaxInstructionLength {
			return apperror.ValidationFailed("steps",
				fmt.Sprintf("step %d: instruction must be %d characters or less", n, MaxInstructionLength))
		}
		if len(s.Screenshot) > highlight.MaxScreenshotBytes*4/3+64 {
			return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: screenshot is too large", n))
		}
		if err := validateHighlight(n, s.Highlight); err != nil {
			return err
		}
	}
	return nil
}

func validateHighlight(n int, h *model.HighlightInput) error {
	if h == nil {
		return nil
	}
	for _, v := range []float64{h.X, h.Y, h.Width, h.Height, h.DevicePixelRatio, h.ViewportWidth, h.ViewportHeight} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: highlight values must be finite numbers", n))
		}
	}
	if h.Width < 0 || h.Height < 0 {
		return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: highlight width and height must not be negative", n))
	}
	if h.DevicePixelRatio < 0 || h.ViewportWidth < 0 || h.ViewportHeight < 0 {
		return apperror.ValidationFailed("steps", fmt.Sprintf("step %d: highlight geometry hints must not be negative", n))
	}
	return nil
}

// validatedInput is a GuideInput after trimming and checks.
type validatedInput struct {
	name, shortcut, description string
	emails                      []string
}

func validateGuideInput(in *model.GuideInput) (*validatedInput, error) {
	var (
		v   validatedInput
		err error
	)
	if v.name, err = validateName(in.Name); err != nil {
		return nil, err
	}
	if v.shortcut, err = validateShortcut(in.Shortcut); err != nil {
		return nil, err
	}
	if v.description, err = validateDescription(in.Description); err != nil {
		return nil, err
	}
	if v.emails, err = validateEmails(in.SharedWith); err != nil {
		return nil, err
	}
	if len(in.Steps) == 0 {
		return nil, apperror.ValidationFailed("steps", "a guide needs at least one step")
	}
	if err := validateSteps(in.Steps); err != nil {
		return nil, err
	}
	return &v, nil
}

// Package model defines the data structures used throughout the application.
package model

import (
	"encoding/json"
	"time"
)

// Guide is a named, shareable procedure made of ordered Steps.
//
// WHY TWO KINDS OF READERS?
// The owner sees everything, including the share token and the list of
// collaborator emails. Everyone else gets a redacted copy (see Redacted), so
// those fields are omitted from JSON when empty.
type Guide struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Shortcut    string    `json:"shortcut"`
	Description string    `json:"description"`
	IsPublic    bool      `json:"isPublic"`
	ShareToken  string    `json:"shareToken,omitempty"`
	OwnerID     string    `json:"ownerId"`
	SharedWith  []string  `json:"sharedWith,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Redacted returns a copy without the owner-only fields.
func (g Guide) Redacted() Guide {
	g.ShareToken = ""
	g.SharedWith = nil
	return g
}

// Step is one instruction within a guide.
//
// Selector, Instruction, ScreenshotPath and Highlight live in the steps table.
// Action and Target come from the per-guide rich-metadata document and are
// overlaid after every read.
type Step struct {
	ID             string     `json:"id"`
	GuideID        string     `json:"guideId"`
	StepNumber     int        `json:"stepNumber"`
	Selector       string     `json:"selector"`
	Instruction    string     `json:"instruction"`
	ScreenshotPath string     `json:"screenshotPath,omitempty"` // relative to the content root
	Highlight      *Highlight `json:"highlight,omitempty"`

	Action string          `json:"action,omitempty"`
	Target json.RawMessage `json:"target,omitempty"`
}

// Highlight is the rectangle a caller drew on a screenshot, stored exactly as
// supplied (before any device-pixel-ratio scaling).
type Highlight struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RichStep is the sidecar record for one step.
type RichStep struct {
	Action string          `json:"action,omitempty"`
	Target json.RawMessage `json:"target,omitempty"`
}

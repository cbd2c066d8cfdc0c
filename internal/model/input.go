package model

import "encoding/json"

// GuideInput is the payload for creating a guide.
type GuideInput struct {
	Name        string      `json:"name"`
	Shortcut    string      `json:"shortcut"`
	Description string      `json:"description"`
	IsPublic    bool        `json:"isPublic"`
	SharedWith  []string    `json:"sharedWith"`
	Steps       []StepInput `json:"steps"`
}

// GuideUpdate is the payload for updating a guide. Nil fields are left alone;
// a non-nil Steps replaces every step of the guide.
type GuideUpdate struct {
	Name        *string      `json:"name"`
	Shortcut    *string      `json:"shortcut"`
	Description *string      `json:"description"`
	IsPublic    *bool        `json:"isPublic"`
	SharedWith  *[]string    `json:"sharedWith"`
	Steps       *[]StepInput `json:"steps"`
}

// StepInput is one step as recorded by the client.
type StepInput struct {
	Selector    string          `json:"selector"`
	Instruction string          `json:"instruction"`
	Screenshot  string          `json:"screenshot"` // base64 or data URL, optional
	Highlight   *HighlightInput `json:"highlight"`
	Action      string          `json:"action"`
	Target      json.RawMessage `json:"target"`
}

// HighlightInput is the raw box plus whatever geometry hints the client had.
// DevicePixelRatio, ViewportWidth and ViewportHeight are zero when unknown.
type HighlightInput struct {
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	ViewportWidth    float64 `json:"viewportWidth"`
	ViewportHeight   float64 `json:"viewportHeight"`
}

// Raw drops the geometry hints and keeps the box as supplied.
func (h HighlightInput) Raw() Highlight {
	return Highlight{X: h.X, Y: h.Y, Width: h.Width, Height: h.Height}
}

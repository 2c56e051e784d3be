package fluxflow

import (
	"context"
	"errors"
)

var (
	ErrNodeNotFound   = errors.New("fluxflow: node not found")
	ErrEdgeNotFound   = errors.New("fluxflow: edge not found")
	ErrDuplicateNode  = errors.New("fluxflow: duplicate node id")
	ErrInvalidPayload = errors.New("fluxflow: invalid node payload")
	ErrKindMismatch   = errors.New("fluxflow: payload kind does not match node")
	ErrOutputNotFound = errors.New("fluxflow: visualisation output not found")
	ErrPresetNotFound = errors.New("fluxflow: preset not found")
)

// PresetsKey is the well-known key the preset collection is stored under.
const PresetsKey = "presets"

// PresetStore defines the contract for persisting reusable graph presets.
// All presets live in one flat collection keyed by preset id.
type PresetStore interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// SavePreset inserts p, or replaces the preset with the same id.
	SavePreset(ctx context.Context, p *Preset) error
	// GetPreset returns nil, nil if no preset has the id.
	GetPreset(ctx context.Context, id string) (*Preset, error)
	ListPresets(ctx context.Context) ([]Preset, error)
	// DeletePreset returns ErrPresetNotFound if no preset has the id.
	DeletePreset(ctx context.Context, id string) error
}

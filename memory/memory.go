// Package memory provides in-process implementations of fluxflow.PresetStore
// and gateway.SessionStore. State is lost on restart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
)

// PresetStore keeps the preset collection as one JSON document under
// fluxflow.PresetsKey, the same layout the postgres store uses.
type PresetStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewPresetStore returns an empty PresetStore.
func NewPresetStore() *PresetStore {
	return &PresetStore{docs: make(map[string][]byte)}
}

func (s *PresetStore) CreateSchema(ctx context.Context) error { return nil }

// DropSchema forgets every preset.
func (s *PresetStore) DropSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string][]byte)
	return nil
}

func (s *PresetStore) load() ([]fluxflow.Preset, error) {
	raw, ok := s.docs[fluxflow.PresetsKey]
	if !ok {
		return []fluxflow.Preset{}, nil
	}
	var presets []fluxflow.Preset
	if err := json.Unmarshal(raw, &presets); err != nil {
		return nil, fmt.Errorf("memory: decode presets: %w", err)
	}
	return presets, nil
}

func (s *PresetStore) store(presets []fluxflow.Preset) error {
	raw, err := json.Marshal(presets)
	if err != nil {
		return fmt.Errorf("memory: encode presets: %w", err)
	}
	s.docs[fluxflow.PresetsKey] = raw
	return nil
}

// SavePreset inserts p or replaces the preset with the same id.
func (s *PresetStore) SavePreset(ctx context.Context, p *fluxflow.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	presets, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range presets {
		if presets[i].ID == p.ID {
			presets[i] = *p
			replaced = true
			break
		}
	}
	if !replaced {
		presets = append(presets, *p)
	}
	return s.store(presets)
}

// GetPreset returns nil, nil if no preset has the id.
func (s *PresetStore) GetPreset(ctx context.Context, id string) (*fluxflow.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	presets, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range presets {
		if presets[i].ID == id {
			return &presets[i], nil
		}
	}
	return nil, nil
}

// ListPresets returns every preset in save order.
func (s *PresetStore) ListPresets(ctx context.Context) ([]fluxflow.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

// DeletePreset returns fluxflow.ErrPresetNotFound if no preset has the id.
func (s *PresetStore) DeletePreset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	presets, err := s.load()
	if err != nil {
		return err
	}
	for i := range presets {
		if presets[i].ID == id {
			return s.store(append(presets[:i], presets[i+1:]...))
		}
	}
	return fluxflow.ErrPresetNotFound
}

// SessionStore keeps credential bindings in a map. Bindings older than the
// TTL are treated as absent.
type SessionStore struct {
	mu       sync.RWMutex
	bindings map[string]gateway.Binding
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore returns a SessionStore. A zero ttl never expires bindings.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		bindings: make(map[string]gateway.Binding),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*gateway.Binding, error) {
	s.mu.RLock()
	b, ok := s.bindings[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if s.expired(b) {
		s.dropExpired(sessionID)
		return nil, nil
	}
	return &b, nil
}

func (s *SessionStore) expired(b gateway.Binding) bool {
	return s.ttl > 0 && s.now().Sub(b.CreatedAt) > s.ttl
}

// dropExpired deletes the binding of sessionID only if the one stored now is
// still expired, so a Set that landed after the read survives.
func (s *SessionStore) dropExpired(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[sessionID]; ok && s.expired(b) {
		delete(s.bindings, sessionID)
	}
}

func (s *SessionStore) Set(ctx context.Context, sessionID string, b gateway.Binding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[sessionID] = b
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, sessionID)
	return nil
}

// Len returns the number of stored bindings, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

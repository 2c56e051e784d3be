package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meikuraledutech/fluxflow"
)

// The preset collection is a single JSON array stored under
// fluxflow.PresetsKey. Writers lock the row for the read-modify-write.

func (s *PGStore) readPresets(ctx context.Context, q pgx.Tx, forUpdate bool) ([]fluxflow.Preset, error) {
	sql := `SELECT value FROM fluxflow_kv WHERE key = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var raw []byte
	var err error
	if q != nil {
		err = q.QueryRow(ctx, sql, fluxflow.PresetsKey).Scan(&raw)
	} else {
		err = s.db.QueryRow(ctx, sql, fluxflow.PresetsKey).Scan(&raw)
	}
	if err != nil {
		if isNoRows(err) {
			return []fluxflow.Preset{}, nil
		}
		return nil, fmt.Errorf("fluxflow: read presets: %w", err)
	}
	presets := []fluxflow.Preset{}
	if err := json.Unmarshal(raw, &presets); err != nil {
		return nil, fmt.Errorf("fluxflow: decode presets: %w", err)
	}
	return presets, nil
}

// mutatePresets runs fn over the locked collection and writes the result
// back in one transaction.
func (s *PGStore) mutatePresets(ctx context.Context, fn func([]fluxflow.Preset) ([]fluxflow.Preset, error)) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("fluxflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO fluxflow_kv (key, value) VALUES ($1, '[]') ON CONFLICT (key) DO NOTHING`,
		fluxflow.PresetsKey,
	); err != nil {
		return fmt.Errorf("fluxflow: ensure presets row: %w", err)
	}

	presets, err := s.readPresets(ctx, tx, true)
	if err != nil {
		return err
	}
	presets, err = fn(presets)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(presets)
	if err != nil {
		return fmt.Errorf("fluxflow: encode presets: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE fluxflow_kv SET value = $2, updated_at = NOW() WHERE key = $1`,
		fluxflow.PresetsKey, raw,
	); err != nil {
		return fmt.Errorf("fluxflow: write presets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("fluxflow: commit: %w", err)
	}
	return nil
}

// SavePreset inserts p, or replaces the preset with the same id.
func (s *PGStore) SavePreset(ctx context.Context, p *fluxflow.Preset) error {
	return s.mutatePresets(ctx, func(presets []fluxflow.Preset) ([]fluxflow.Preset, error) {
		for i := range presets {
			if presets[i].ID == p.ID {
				presets[i] = *p
				return presets, nil
			}
		}
		return append(presets, *p), nil
	})
}

// GetPreset returns nil, nil if no preset has the id.
func (s *PGStore) GetPreset(ctx context.Context, id string) (*fluxflow.Preset, error) {
	presets, err := s.readPresets(ctx, nil, false)
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
func (s *PGStore) ListPresets(ctx context.Context) ([]fluxflow.Preset, error) {
	return s.readPresets(ctx, nil, false)
}

// DeletePreset returns fluxflow.ErrPresetNotFound if no preset has the id.
func (s *PGStore) DeletePreset(ctx context.Context, id string) error {
	return s.mutatePresets(ctx, func(presets []fluxflow.Preset) ([]fluxflow.Preset, error) {
		for i := range presets {
			if presets[i].ID == id {
				return append(presets[:i], presets[i+1:]...), nil
			}
		}
		return nil, fluxflow.ErrPresetNotFound
	})
}

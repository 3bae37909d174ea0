// Package store loads and saves the persisted aggregate and settings,
// repairing missing or corrupted documents with defaults.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jomardyan/FlexiFocus/internal/model"
	"github.com/jomardyan/FlexiFocus/internal/repository"
)

const (
	StateKey    = "state"
	SettingsKey = "settings"
)

// Backend is the key-value persistence the store reads and writes.
type Backend interface {
	Get(ctx context.Context, key string) (*repository.Record, error)
	Put(ctx context.Context, writes ...repository.Write) ([]int64, error)
}

// Snapshot is the aggregate and settings as loaded, with the version stamps
// needed to write them back.
type Snapshot struct {
	State           model.AppState
	Settings        model.Settings
	StateVersion    int64
	SettingsVersion int64
}

type Store struct {
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, logger: logger}
}

// Load reads both documents. Missing or invalid data loads as defaults; only
// backend failures are returned as errors.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	stateRecord, err := s.get(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	if stateRecord != nil {
		snap.StateVersion = stateRecord.Version
		state, ok := s.decodeState(stateRecord.Value)
		if !ok {
			state = model.DefaultAppState()
		}
		snap.State = state
	} else {
		snap.State = model.DefaultAppState()
	}

	settingsRecord, err := s.get(ctx, SettingsKey)
	if err != nil {
		return nil, err
	}
	if settingsRecord != nil {
		snap.SettingsVersion = settingsRecord.Version
		settings, ok := s.decodeSettings(settingsRecord.Value)
		if !ok {
			settings = model.DefaultSettings()
		}
		snap.Settings = settings
	} else {
		snap.Settings = model.DefaultSettings()
	}

	if snap.State.Timer.MethodKey == "" {
		snap.State.Timer.MethodKey = snap.Settings.SelectedMethod
	}
	return snap, nil
}

// Save writes both documents in full, failing with
// repository.ErrVersionConflict if either changed since it was loaded.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	snap.State.SchemaVersion = model.SchemaVersion
	stateRaw, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	settingsRaw, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	versions, err := s.backend.Put(ctx,
		repository.Write{Key: StateKey, Value: stateRaw, ExpectedVersion: snap.StateVersion},
		repository.Write{Key: SettingsKey, Value: settingsRaw, ExpectedVersion: snap.SettingsVersion},
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	snap.StateVersion = versions[0]
	snap.SettingsVersion = versions[1]
	return nil
}

func (s *Store) get(ctx context.Context, key string) (*repository.Record, error) {
	record, err := s.backend.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return record, nil
}

func (s *Store) decodeState(raw []byte) (model.AppState, bool) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("discarding unreadable state", "error", err)
		return model.AppState{}, false
	}
	if !validStateDocument(doc) {
		s.logger.Warn("discarding malformed state")
		return model.AppState{}, false
	}
	migrateDocument(doc)

	defaults, err := toDocument(model.DefaultAppState())
	if err != nil {
		s.logger.Warn("encode default state", "error", err)
		return model.AppState{}, false
	}

	var state model.AppState
	if err := fromDocument(MergeDefaults(doc, defaults), &state); err != nil {
		s.logger.Warn("discarding state with invalid fields", "error", err)
		return model.AppState{}, false
	}
	normalizeState(&state)
	return state, true
}

func (s *Store) decodeSettings(raw []byte) (model.Settings, bool) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		s.logger.Warn("discarding unreadable settings", "error", err)
		return model.Settings{}, false
	}
	settings, err := MergeSettings(model.DefaultSettings(), doc)
	if err != nil {
		s.logger.Warn("discarding invalid settings", "error", err)
		return model.Settings{}, false
	}
	return settings, true
}

// MergeSettings overlays a partial settings document on base and validates
// the result.
func MergeSettings(base model.Settings, patch map[string]any) (model.Settings, error) {
	baseDoc, err := toDocument(base)
	if err != nil {
		return model.Settings{}, err
	}
	var settings model.Settings
	if err := fromDocument(MergeDefaults(patch, baseDoc), &settings); err != nil {
		return model.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if settings.Presets == nil {
		settings.Presets = map[string]model.MethodPreset{}
	}
	if err := ValidateSettings(settings); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

// normalizeState restores invariants a hand-edited or older document may
// violate.
func normalizeState(state *model.AppState) {
	if state.Tasks == nil {
		state.Tasks = []model.Task{}
	}
	if state.History == nil {
		state.History = []model.HistoryEntry{}
	}
	if len(state.History) > model.HistoryLimit {
		state.History = state.History[:model.HistoryLimit]
	}
	for i := range state.Tasks {
		if state.Tasks[i].Estimate < 1 {
			state.Tasks[i].Estimate = 1
		}
	}

	timer := &state.Timer
	if !timer.Phase.Valid() {
		timer.Phase = model.PhaseWork
	}
	if timer.CycleCount < 0 {
		timer.CycleCount = 0
	}
	if timer.IsRunning {
		timer.RemainingMs = 0
	} else {
		timer.StartTime = 0
		timer.EndTime = 0
	}
}

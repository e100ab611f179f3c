// Package settings holds the in-memory mirror of the persisted capture
// settings and notifies subscribers when they change.
package settings

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/auracap/internal/types"
)

// Store persists settings.
type Store interface {
	LoadSettings(ctx context.Context, defaults types.Settings) (types.Settings, bool, error)
	SaveSettings(ctx context.Context, s types.Settings) error
}

// Service serves reads from memory and writes through to the Store.
type Service struct {
	store Store

	mu      sync.RWMutex
	current types.Settings
	subs    []func(types.Settings)
}

// Load reads the persisted settings once, falling back to defaults.
func Load(ctx context.Context, store Store, defaults types.Settings) (*Service, error) {
	current, found, err := store.LoadSettings(ctx, defaults)
	if err != nil {
		return nil, err
	}
	if err := validate(current); err != nil {
		slog.Warn("persisted settings invalid, using defaults", "error", err)
		current = defaults
	}
	slog.Info("settings loaded", "persisted", found, "capture_enabled", current.CaptureEnabled, "max_retained_calls", current.MaxRetainedCalls)
	return &Service{store: store, current: current}, nil
}

func (s *Service) Get() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) CaptureEnabled() bool { return s.Get().CaptureEnabled }

func (s *Service) MaxRetainedCalls() int { return s.Get().MaxRetainedCalls }

// Subscribe registers fn to receive every applied update.
func (s *Service) Subscribe(fn func(types.Settings)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Update validates and persists the patched settings, then swaps the mirror
// and notifies subscribers. Concurrent updates resolve last writer wins.
func (s *Service) Update(ctx context.Context, patch types.SettingsPatch) (types.Settings, error) {
	next := patch.Apply(s.Get())
	if err := validate(next); err != nil {
		return types.Settings{}, err
	}
	if err := s.store.SaveSettings(ctx, next); err != nil {
		return types.Settings{}, err
	}

	s.mu.Lock()
	s.current = next
	subs := make([]func(types.Settings), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	slog.Info("settings updated", "capture_enabled", next.CaptureEnabled, "max_retained_calls", next.MaxRetainedCalls)
	return next, nil
}

func validate(s types.Settings) error {
	if s.MaxRetainedCalls < 1 {
		return types.NewError(types.CodeValidation, "maxRequestEntries must be at least 1", nil)
	}
	return nil
}

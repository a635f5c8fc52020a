package dispatch

import (
	"context"
	"fmt"

	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
	"agent-dispatch/internal/store"
)

// SettingsAdmin reads and updates the runtime settings bag. A change to the
// central threshold recomputes origin viability immediately, so searches see
// the new limit without waiting for a precalculation pass.
type SettingsAdmin struct {
	settings SettingsRepository
	origins  OriginDirectory
	logger   logger.Logger
}

func NewSettingsAdmin(settings SettingsRepository, origins OriginDirectory, log logger.Logger) *SettingsAdmin {
	return &SettingsAdmin{
		settings: settings,
		origins:  origins,
		logger:   log.WithFields(map[string]interface{}{"component": "settings"}),
	}
}

// Get returns the effective settings, defaults applied.
func (a *SettingsAdmin) Get(ctx context.Context) (store.Settings, error) {
	return a.settings.Load(ctx)
}

// Update writes the given setting keys and returns the new effective
// settings. Unknown keys are rejected before anything is written.
func (a *SettingsAdmin) Update(ctx context.Context, changes map[string]string) (store.Settings, error) {
	if len(changes) == 0 {
		return store.Settings{}, commonerrors.NewInvalidInputError("no settings provided")
	}
	for key := range changes {
		if !store.IsSettingKey(key) {
			return store.Settings{}, commonerrors.NewInvalidInputError(fmt.Sprintf("unknown setting %q", key))
		}
	}

	before, err := a.settings.Load(ctx)
	if err != nil {
		return store.Settings{}, err
	}

	for key, value := range changes {
		if err := a.settings.Set(ctx, key, value); err != nil {
			return store.Settings{}, err
		}
	}

	after, err := a.settings.Load(ctx)
	if err != nil {
		return store.Settings{}, err
	}

	if after.CentralMaxMinutes != before.CentralMaxMinutes {
		affected, err := a.origins.RecomputeViability(ctx, after.CentralMaxMinutes)
		if err != nil {
			return store.Settings{}, err
		}
		a.logger.Info("viability recomputed after threshold change", map[string]interface{}{
			"threshold": after.CentralMaxMinutes,
			"origins":   affected,
		})
	}

	return after, nil
}

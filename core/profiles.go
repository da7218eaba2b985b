package core

import (
	"context"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// ListProfiles returns saved profiles as ordered by the store.
func (e *Engine) ListProfiles(ctx context.Context) ([]schema.SessionProfile, error) {
	if e.profiles == nil {
		return nil, schema.ErrProfileStoreUnavailable
	}
	return e.profiles.ListProfiles(ctx)
}

// GetProfile returns one saved profile.
func (e *Engine) GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error) {
	return e.resolveProfile(ctx, id)
}

// SaveProfile normalizes and validates the profile before handing it to the
// store. Validation failures never reach the store.
func (e *Engine) SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error) {
	log := pslog.Ctx(ctx)
	profile = schema.NormalizeProfile(profile)
	if err := schema.ValidateProfile(profile); err != nil {
		log.Debug("engine profile rejected", "profile", profile.ID, "err", err)
		return schema.SessionProfile{}, err
	}
	if e.profiles == nil {
		return schema.SessionProfile{}, schema.ErrProfileStoreUnavailable
	}
	saved, err := e.profiles.SaveProfile(ctx, profile)
	if err != nil {
		log.Warn("engine profile save failed", "profile", profile.ID, "err", err)
		return schema.SessionProfile{}, fmt.Errorf("save profile: %w", err)
	}
	log.Info("engine profile saved", "profile", saved.ID, "name", saved.Name)
	return saved, nil
}

// DeleteProfile removes a saved profile. Tabs bound to it keep their binding.
func (e *Engine) DeleteProfile(ctx context.Context, id schema.ProfileID) error {
	if e.profiles == nil {
		return schema.ErrProfileStoreUnavailable
	}
	if err := e.profiles.DeleteProfile(ctx, id); err != nil {
		return err
	}
	pslog.Ctx(ctx).Info("engine profile deleted", "profile", id)
	return nil
}

// Package profilestore persists session profiles with their secrets sealed
// at rest.
package profilestore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

const (
	// BackendSQLite stores profiles in a SQLite database.
	BackendSQLite = "sqlite"
	// BackendJSON stores profiles in a single JSON file.
	BackendJSON = "json"
)

// Store is a profile store that owns resources.
type Store interface {
	ListProfiles(ctx context.Context) ([]schema.SessionProfile, error)
	GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error)
	SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error)
	DeleteProfile(ctx context.Context, id schema.ProfileID) error
	Close() error
}

// Config selects and locates a backend.
type Config struct {
	Backend      string
	Path         string
	KeyStorePath string
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config, logger pslog.Logger) (Store, error) {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("profile store path is required")
	}
	keyStore := cfg.KeyStorePath
	if strings.TrimSpace(keyStore) == "" {
		keyStore = filepath.Join(filepath.Dir(cfg.Path), "profiles.keys")
	}
	sealer, err := NewSealer(keyStore, logger)
	if err != nil {
		return nil, err
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.Path, sealer, logger)
	case BackendJSON:
		return OpenFile(cfg.Path, sealer, logger)
	default:
		return nil, fmt.Errorf("unsupported profile backend %q", cfg.Backend)
	}
}

var nowFunc = func() time.Time { return time.Now().UTC() }

// stampNew assigns an id and both timestamps to a profile being created.
func stampNew(profile schema.SessionProfile) schema.SessionProfile {
	now := nowFunc()
	profile.ID = schema.ProfileID(uuid.NewString())
	profile.CreatedAt = now
	profile.UpdatedAt = now
	return profile
}

// stampUpdate keeps the creation time and refreshes the update time.
func stampUpdate(profile schema.SessionProfile, createdAt time.Time) schema.SessionProfile {
	profile.CreatedAt = createdAt
	profile.UpdatedAt = nowFunc()
	return profile
}

func notFound(id schema.ProfileID) error {
	return fmt.Errorf("%w: %s", schema.ErrProfileNotFound, id)
}

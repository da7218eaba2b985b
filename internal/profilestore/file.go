package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// fileSnapshot is the on-disk layout of the JSON backend.
type fileSnapshot struct {
	Profiles []schema.SessionProfile `json:"profiles"`
}

// FileStore keeps all profiles in one JSON file, replaced atomically on
// every write. Passwords are sealed in the file.
type FileStore struct {
	path   string
	sealer *Sealer
	log    pslog.Logger
	mu     sync.Mutex
}

// OpenFile prepares a JSON store at path. The file is created on first save.
func OpenFile(path string, sealer *Sealer, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("profile file path is required")
	}
	if sealer == nil {
		return nil, errors.New("profile sealer is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("profile_file", path)
		logger.Debug("profile store open", "backend", BackendJSON)
	}
	return &FileStore{path: path, sealer: sealer, log: logger}, nil
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error { return nil }

// ListProfiles returns profiles newest first.
func (s *FileStore) ListProfiles(ctx context.Context) ([]schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]schema.SessionProfile, 0, len(snapshot.Profiles))
	for _, sealed := range snapshot.Profiles {
		profile, err := s.open(sealed)
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetProfile returns one profile.
func (s *FileStore) GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return schema.SessionProfile{}, err
	}
	for _, sealed := range snapshot.Profiles {
		if sealed.ID == id {
			return s.open(sealed)
		}
	}
	return schema.SessionProfile{}, notFound(id)
}

// SaveProfile creates a profile with an empty id and updates the rest.
func (s *FileStore) SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return schema.SessionProfile{}, err
	}
	profile = schema.NormalizeProfile(profile)
	index := -1
	if profile.ID == "" {
		profile = stampNew(profile)
	} else {
		for i, existing := range snapshot.Profiles {
			if existing.ID == profile.ID {
				index = i
				break
			}
		}
		if index < 0 {
			return schema.SessionProfile{}, notFound(profile.ID)
		}
		profile = stampUpdate(profile, snapshot.Profiles[index].CreatedAt)
	}
	sealed := profile
	if sealed.Password, err = s.sealer.Seal(profile.Password); err != nil {
		return schema.SessionProfile{}, fmt.Errorf("seal password: %w", err)
	}
	if index < 0 {
		snapshot.Profiles = append(snapshot.Profiles, sealed)
	} else {
		snapshot.Profiles[index] = sealed
	}
	if err := s.save(snapshot); err != nil {
		return schema.SessionProfile{}, err
	}
	if s.log != nil {
		s.log.Info("profile saved", "profile", profile.ID, "name", profile.Name, "created", index < 0)
	}
	return profile, nil
}

// DeleteProfile removes a profile.
func (s *FileStore) DeleteProfile(ctx context.Context, id schema.ProfileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return err
	}
	kept := snapshot.Profiles[:0]
	found := false
	for _, existing := range snapshot.Profiles {
		if existing.ID == id {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return notFound(id)
	}
	snapshot.Profiles = kept
	if err := s.save(snapshot); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("profile deleted", "profile", id)
	}
	return nil
}

func (s *FileStore) open(sealed schema.SessionProfile) (schema.SessionProfile, error) {
	password, err := s.sealer.Open(sealed.Password)
	if err != nil {
		if s.log != nil {
			s.log.Warn("profile secret open failed", "profile", sealed.ID, "err", err)
		}
		return schema.SessionProfile{}, fmt.Errorf("profile %s: %w", sealed.ID, err)
	}
	sealed.Password = password
	return schema.NormalizeProfile(sealed), nil
}

func (s *FileStore) load() (fileSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSnapshot{}, nil
		}
		if s.log != nil {
			s.log.Warn("profile file load failed", "err", err)
		}
		return fileSnapshot{}, err
	}
	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if s.log != nil {
			s.log.Warn("profile file load failed", "err", err)
		}
		return fileSnapshot{}, err
	}
	return snapshot, nil
}

func (s *FileStore) save(snapshot fileSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "profiles-*.json")
	if err != nil {
		s.warnSave(err)
		return err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		s.warnSave(err)
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		s.warnSave(err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.warnSave(err)
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		s.warnSave(err)
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		s.warnSave(err)
		return err
	}
	if s.log != nil {
		s.log.Trace("profile file save ok", "profiles", len(snapshot.Profiles))
	}
	return nil
}

func (s *FileStore) warnSave(err error) {
	if s.log != nil {
		s.log.Warn("profile file save failed", "err", err)
	}
}

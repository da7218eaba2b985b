package profilestore

import (
	"fmt"
	"os"
	"path/filepath"

	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

// EnsureKeyStore creates or loads the key bundle at path and ensures a root
// key exists.
func EnsureKeyStore(path string, logger pslog.Logger) error {
	if path == "" {
		return fmt.Errorf("profile key store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if logger != nil {
			logger.Warn("profile key store ensure failed", "err", err)
		}
		return err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("profile key store ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("profile key store ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("profile key store ensure failed", "err", err)
		}
		return err
	}
	if logger != nil {
		logger.Debug("profile key store ensure ok", "path", path)
	}
	return nil
}

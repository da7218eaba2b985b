// Package auth authorizes SSH attach logins against an authorized_keys file
// and an optional shared TOTP secret.
package auth

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
)

var (
	// ErrInvalidTOTP indicates a wrong or missing verification code.
	ErrInvalidTOTP = errors.New("invalid totp")
	// ErrTOTPDisabled indicates no TOTP secret is configured.
	ErrTOTPDisabled = errors.New("totp not configured")
)

// Authorizer checks login keys against an authorized_keys file, reloading it
// when the file changes on disk.
type Authorizer struct {
	path       string
	totpSecret string
	mu         sync.RWMutex
	keys       [][]byte
	fileState  fileState
	log        pslog.Logger
}

// NewAuthorizer loads the authorized_keys file at path. totpSecret may be
// empty to disable the second factor.
func NewAuthorizer(path, totpSecret string, logger pslog.Logger) (*Authorizer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("authorized keys path is required")
	}
	if logger != nil {
		logger = logger.With("authorized_keys", path)
	}
	a := &Authorizer{
		path:       path,
		totpSecret: strings.TrimSpace(totpSecret),
		log:        logger,
	}
	if err := a.loadFromDisk(); err != nil {
		return nil, err
	}
	return a, nil
}

// TOTPRequired reports whether logins must pass a verification code.
func (a *Authorizer) TOTPRequired() bool {
	return a.totpSecret != ""
}

// HasKey reports whether key is listed in the authorized_keys file.
func (a *Authorizer) HasKey(key ssh.PublicKey) (bool, error) {
	if err := a.refreshIfNeeded(); err != nil {
		return false, err
	}
	want := key.Marshal()
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, known := range a.keys {
		if bytes.Equal(known, want) {
			return true, nil
		}
	}
	return false, nil
}

// Keys returns the number of loaded keys.
func (a *Authorizer) Keys() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

// ValidateTOTP verifies code against the configured secret.
func (a *Authorizer) ValidateTOTP(code string) error {
	if a.totpSecret == "" {
		return ErrTOTPDisabled
	}
	if !totp.Validate(strings.TrimSpace(code), a.totpSecret) {
		return ErrInvalidTOTP
	}
	return nil
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = uint64(stat.Dev)
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

func (a *Authorizer) refreshIfNeeded() error {
	info, err := os.Stat(a.path)
	if err != nil {
		if a.log != nil {
			a.log.Warn("auth keys stat failed", "err", err)
		}
		return err
	}
	latest := fileStateFromInfo(info)
	a.mu.RLock()
	current := a.fileState
	a.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return a.loadFromDisk()
}

func (a *Authorizer) loadFromDisk() error {
	file, err := os.Open(a.path)
	if err != nil {
		if a.log != nil {
			a.log.Warn("auth keys load failed", "err", err)
		}
		return err
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	var keys [][]byte
	skipped := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			skipped++
			continue
		}
		keys = append(keys, key.Marshal())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.keys = keys
	a.fileState = fileStateFromInfo(info)
	a.mu.Unlock()
	if a.log != nil {
		a.log.Debug("auth keys load ok", "keys", len(keys), "skipped", skipped)
	}
	return nil
}

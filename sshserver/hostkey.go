package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// HostKey is the attach server's identity.
type HostKey struct {
	Signer      ssh.Signer
	Fingerprint string
	// Created is set when the key was generated by this call.
	Created bool
}

// LoadOrCreateHostKey reads the host key at path and writes a new ed25519 key
// there when none exists. A key file readable by group or others is refused.
func LoadOrCreateHostKey(path string) (HostKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return HostKey{}, errors.New("ssh host key path is required")
	}
	key, err := readHostKey(path)
	if !errors.Is(err, os.ErrNotExist) {
		return key, err
	}
	key, err = writeHostKey(path)
	if errors.Is(err, os.ErrExist) {
		// Lost the create to a concurrent start.
		return readHostKey(path)
	}
	return key, err
}

func readHostKey(path string) (HostKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("stat host key: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return HostKey{}, fmt.Errorf("ssh host key %s has mode %04o, want 0600", path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return HostKey{}, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return newHostKey(signer, false), nil
}

func writeHostKey(path string) (HostKey, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return HostKey{}, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return HostKey{}, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "tabterm attach host key")
	if err != nil {
		return HostKey{}, fmt.Errorf("marshal host key: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return HostKey{}, fmt.Errorf("create host key: %w", err)
	}
	if _, err := file.Write(pem.EncodeToMemory(block)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return HostKey{}, fmt.Errorf("write host key: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return HostKey{}, fmt.Errorf("close host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return HostKey{}, err
	}
	return newHostKey(signer, true), nil
}

func newHostKey(signer ssh.Signer, created bool) HostKey {
	return HostKey{
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
		Created:     created,
	}
}

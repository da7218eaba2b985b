package profilestore

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
)

const (
	descriptorName = "tabterm:profiles"
	sealedPrefix   = "kg1:"
)

// ErrUnsealedSecret indicates a stored secret lacks the sealed prefix.
var ErrUnsealedSecret = errors.New("stored secret is not sealed")

// Sealer encrypts profile secrets at rest.
type Sealer struct {
	root     keymgmt.RootKey
	material keymgmt.Material
}

// NewSealer loads (or creates) the key bundle and the profile descriptor.
func NewSealer(keyStorePath string, logger pslog.Logger) (*Sealer, error) {
	if err := EnsureKeyStore(keyStorePath, logger); err != nil {
		return nil, err
	}
	store, err := keymgmt.LoadProto(keyStorePath)
	if err != nil {
		return nil, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return nil, err
	}
	material, err := store.EnsureDescriptor(descriptorName, root, []byte(descriptorName))
	if err != nil {
		if logger != nil {
			logger.Warn("profile secret material ensure failed", "err", err)
		}
		return nil, err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("profile secret material commit failed", "err", err)
		}
		return nil, err
	}
	return &Sealer{root: root, material: material}, nil
}

// Seal encrypts plain. The empty string stays empty.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var buf bytes.Buffer
	writer, err := kryptograf.New(s.root).EncryptWriter(&buf, s.material)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(writer, strings.NewReader(plain)); err != nil {
		_ = writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrUnsealedSecret
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	reader, err := kryptograf.New(s.root).DecryptReader(bytes.NewReader(raw), s.material)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plain), nil
}

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"
)

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestAuthorizerMatchesListedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	allowed := newSigner(t)
	other := newSigner(t)
	content := "# operators\n\nnot-a-key\n" + string(ssh.MarshalAuthorizedKey(allowed.PublicKey()))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := NewAuthorizer(path, "", nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	if a.Keys() != 1 {
		t.Fatalf("expected 1 key, got %d", a.Keys())
	}
	if ok, err := a.HasKey(allowed.PublicKey()); err != nil || !ok {
		t.Fatalf("expected allowed key, ok=%v err=%v", ok, err)
	}
	if ok, err := a.HasKey(other.PublicKey()); err != nil || ok {
		t.Fatalf("expected other key rejected, ok=%v err=%v", ok, err)
	}
}

func TestAuthorizerReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	first := newSigner(t)
	second := newSigner(t)
	if err := os.WriteFile(path, ssh.MarshalAuthorizedKey(first.PublicKey()), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := NewAuthorizer(path, "", nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	if ok, _ := a.HasKey(second.PublicKey()); ok {
		t.Fatalf("second key accepted before it was added")
	}

	content := append(ssh.MarshalAuthorizedKey(first.PublicKey()), ssh.MarshalAuthorizedKey(second.PublicKey())...)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if ok, err := a.HasKey(second.PublicKey()); err != nil || !ok {
		t.Fatalf("expected reload to pick up second key, ok=%v err=%v", ok, err)
	}
}

func TestAuthorizerMissingFile(t *testing.T) {
	if _, err := NewAuthorizer(filepath.Join(t.TempDir(), "missing"), "", nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := NewAuthorizer("  ", "", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestAuthorizerTOTP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authorized_keys")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	plain, err := NewAuthorizer(path, "", nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	if plain.TOTPRequired() {
		t.Fatalf("totp required without a secret")
	}
	if err := plain.ValidateTOTP("123456"); err != ErrTOTPDisabled {
		t.Fatalf("expected ErrTOTPDisabled, got %v", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "tabterm", AccountName: "attach"})
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	a, err := NewAuthorizer(path, key.Secret(), nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := a.ValidateTOTP(code); err != nil {
		t.Fatalf("valid code rejected: %v", err)
	}
	if err := a.ValidateTOTP("000000x"); err != ErrInvalidTOTP {
		t.Fatalf("expected ErrInvalidTOTP, got %v", err)
	}
}

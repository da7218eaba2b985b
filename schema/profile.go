package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// SessionProfile is a saved remote-connection descriptor.
type SessionProfile struct {
	ID             ProfileID `json:"id"`
	Name           string    `json:"name"`
	Host           string    `json:"host"`
	Port           int       `json:"port"`
	Username       string    `json:"username"`
	AuthType       AuthType  `json:"auth_type"`
	Password       string    `json:"password,omitempty"`
	PrivateKeyPath string    `json:"private_key,omitempty"`
	Group          string    `json:"group,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Address returns host:port for dialing.
func (p SessionProfile) Address() string {
	host := p.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, p.Port)
}

// Target returns user@host:port for display.
func (p SessionProfile) Target() string {
	return fmt.Sprintf("%s@%s", p.Username, p.Address())
}

// Secret returns the credential that matches the auth type.
func (p SessionProfile) Secret() string {
	switch p.AuthType {
	case AuthPassword:
		return p.Password
	case AuthPrivateKey:
		return p.PrivateKeyPath
	default:
		return ""
	}
}

// NormalizeProfile trims fields and drops the credential of the unused auth variant.
func NormalizeProfile(p SessionProfile) SessionProfile {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)
	p.Username = strings.TrimSpace(p.Username)
	p.Group = strings.TrimSpace(p.Group)
	p.PrivateKeyPath = strings.TrimSpace(p.PrivateKeyPath)
	p.AuthType = AuthType(strings.ToLower(strings.TrimSpace(string(p.AuthType))))
	if p.AuthType == "" {
		p.AuthType = AuthPassword
	}
	switch p.AuthType {
	case AuthPassword:
		p.PrivateKeyPath = ""
	case AuthPrivateKey:
		p.Password = ""
	}
	if p.Name == "" {
		p.Name = p.Target()
	}
	return p
}

// ValidateProfile checks host, port, username, and auth fields.
// Errors wrap ErrProfileValidation.
func ValidateProfile(p SessionProfile) error {
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrProfileValidation)
	}
	for _, r := range p.Host {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: host contains invalid characters", ErrProfileValidation)
		}
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrProfileValidation)
	}
	if strings.TrimSpace(p.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrProfileValidation)
	}
	for _, r := range p.Username {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '@' {
			return fmt.Errorf("%w: username contains invalid characters", ErrProfileValidation)
		}
	}
	switch p.AuthType {
	case AuthPassword:
	case AuthPrivateKey:
		if strings.TrimSpace(p.PrivateKeyPath) == "" {
			return fmt.Errorf("%w: private key path is required", ErrProfileValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported auth type %q", ErrProfileValidation, p.AuthType)
	}
	return nil
}

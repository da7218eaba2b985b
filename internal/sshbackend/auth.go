package sshbackend

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

func authMethods(profile schema.SessionProfile) ([]ssh.AuthMethod, error) {
	secret := profile.Secret()
	switch profile.AuthType {
	case schema.AuthPassword:
		password := secret
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	case schema.AuthPrivateKey:
		if secret == "" {
			return nil, fmt.Errorf("%w: private key path is required", schema.ErrProfileValidation)
		}
		path, err := expandHome(secret)
		if err != nil {
			return nil, err
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("private key %s is passphrase protected", path)
			}
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported auth type %q", schema.ErrProfileValidation, profile.AuthType)
	}
}

func (b *Backend) hostKeyCallback(log pslog.Logger) (ssh.HostKeyCallback, error) {
	if b.cfg.KnownHostsPath == "" {
		log.Warn("ssh host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(b.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return callback, nil
}

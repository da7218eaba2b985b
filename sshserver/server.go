package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/eventbus"
)

// KeyAuthorizer validates SSH attach logins.
type KeyAuthorizer interface {
	HasKey(key ssh.PublicKey) (bool, error)
	TOTPRequired() bool
	ValidateTOTP(code string) error
}

// Server attaches SSH clients to engine tabs.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     core.Service
	Auth        KeyAuthorizer
	Events      *eventbus.Fanout
	logger      pslog.Logger
}

type authContextKey string

const loginPubKeyOK authContextKey = "login-pubkey-ok"

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}

	hostKey, err := LoadOrCreateHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	s.logger.Info("ssh host key ready", "path", s.HostKeyPath, "fingerprint", hostKey.Fingerprint, "created", hostKey.Created)

	if s.Auth == nil {
		return errors.New("key authorizer is required for SSH")
	}
	if s.Service == nil || s.Events == nil {
		return errors.New("service and event fanout are required for SSH")
	}

	server := &gliderssh.Server{
		Addr:                       s.Addr,
		Handler:                    s.handleSession,
		PublicKeyHandler:           s.handlePublicKey,
		KeyboardInteractiveHandler: s.handleKeyboardInteractive,
	}
	server.AddHostKey(hostKey.Signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// handlePublicKey accepts listed keys outright unless a TOTP code is also
// required, in which case it marks the context and defers to
// keyboard-interactive.
func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	fingerprint := ssh.FingerprintSHA256(key)
	log := s.log(ctx).With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", fingerprint)
	if sshSession := ctx.SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ok, err := s.Auth.HasKey(key)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return false
	}
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	if s.Auth.TOTPRequired() {
		ctx.SetValue(loginPubKeyOK, true)
		log.Info("ssh pubkey accepted", "totp", true)
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func (s *Server) handleKeyboardInteractive(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
	if ctx.Value(loginPubKeyOK) != true {
		return false
	}
	log := s.log(ctx).With("user", ctx.User(), "remote", remoteAddr(ctx))
	if sshSession := ctx.SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	answers, err := challenger(ctx.User(), "", []string{"Verification code: "}, []bool{false})
	if err != nil {
		log.Warn("ssh totp rejected", "reason", "challenge failed", "err", err)
		return false
	}
	if len(answers) != 1 {
		log.Warn("ssh totp rejected", "reason", "invalid answer count", "count", len(answers))
		return false
	}
	if err := s.Auth.ValidateTOTP(answers[0]); err != nil {
		log.Warn("ssh totp rejected", "reason", "invalid code", "err", err)
		return false
	}
	log.Info("ssh totp accepted")
	return true
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	remote := sess.RemoteAddr().String()
	log := s.log(sess.Context()).With("user", sess.User(), "remote", remote)
	if sshSession := sess.Context().SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ctx := pslog.ContextWithLogger(sess.Context(), log)

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\r\n")
		_ = sess.Exit(1)
		return
	}

	log.Info("ssh session opened", "term", pty.Term, "command", sess.Command())
	a := &attachment{
		sess:    sess,
		service: s.Service,
		events:  s.Events,
	}
	code := a.run(ctx, sess.Command(), pty.Window, winCh)
	_ = sess.Exit(code)
	log.Info("ssh session closed", "term", pty.Term, "exit", code)
}

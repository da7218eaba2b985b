// Package sshbackend is the SSH transport for the tab engine. Each tab owns
// at most one client connection with a pty-backed shell; output and
// connection state flow back through an inbound sink tagged with the tab id.
package sshbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

const (
	// DefaultTerm is the terminal type requested for the pty.
	DefaultTerm = "xterm-256color"
	// DefaultDialTimeout bounds TCP connect plus SSH handshake.
	DefaultDialTimeout = 15 * time.Second
	defaultCols        = 80
	defaultRows        = 24
	readChunk          = 8192
)

var (
	// ErrSessionExists indicates the tab already has a session or a dial in flight.
	ErrSessionExists = errors.New("session already open for tab")
	// ErrClosed indicates the backend was closed.
	ErrClosed = errors.New("ssh backend closed")
)

// Config controls how sessions are dialed.
type Config struct {
	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string
	Term           string
	DialTimeout    time.Duration
	// Keepalive sends keepalive requests at this interval; zero disables them.
	Keepalive time.Duration
	Cols      int
	Rows      int
}

// Backend implements core.Transport over golang.org/x/crypto/ssh.
type Backend struct {
	cfg  Config
	sink core.InboundSink
	log  pslog.Logger

	mu       sync.Mutex
	sessions map[schema.TabID]*session
	dialing  map[schema.TabID]*pendingDial
	closed   bool
}

// pendingDial marks one OpenSession in flight. CloseSession abandons it by
// dropping the entry, and a later reservation for the same tab gets its own.
type pendingDial struct {
	tabID schema.TabID
}

var _ core.Transport = (*Backend)(nil)

// New constructs a backend publishing into sink.
func New(cfg Config, sink core.InboundSink, logger pslog.Logger) (*Backend, error) {
	if sink == nil {
		return nil, errors.New("inbound sink is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if strings.TrimSpace(cfg.Term) == "" {
		cfg.Term = DefaultTerm
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Cols <= 0 {
		cfg.Cols = defaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = defaultRows
	}
	if cfg.KnownHostsPath != "" {
		path, err := expandHome(cfg.KnownHostsPath)
		if err != nil {
			return nil, err
		}
		cfg.KnownHostsPath = path
	}
	return &Backend{
		cfg:      cfg,
		sink:     sink,
		log:      logger,
		sessions: make(map[schema.TabID]*session),
		dialing:  make(map[schema.TabID]*pendingDial),
	}, nil
}

// OpenSession dials, authenticates and starts a shell for the tab. It returns
// once the shell is running; output is then streamed to the sink.
func (b *Backend) OpenSession(ctx context.Context, tabID schema.TabID, profile schema.SessionProfile) error {
	log := logx.WithTarget(logx.WithTab(ctx, tabID), profile)
	pending, err := b.reserve(tabID)
	if err != nil {
		return err
	}
	released := false
	release := func() {
		if !released {
			released = true
			b.unreserve(pending)
		}
	}
	defer release()

	config, err := b.clientConfig(log, profile)
	if err != nil {
		return err
	}
	start := time.Now()
	client, err := dial(ctx, profile.Address(), config, b.cfg.DialTimeout)
	if err != nil {
		log.Warn("ssh connect failed", "err", err)
		return err
	}
	s, err := startShell(client, b.cfg)
	if err != nil {
		_ = client.Close()
		log.Warn("ssh shell start failed", "err", err)
		return err
	}

	b.mu.Lock()
	stillWanted := b.dialing[tabID] == pending
	if b.closed || !stillWanted {
		b.mu.Unlock()
		s.close()
		log.Info("ssh session discarded after close")
		return ErrClosed
	}
	delete(b.dialing, tabID)
	released = true
	b.sessions[tabID] = s
	b.mu.Unlock()

	log.Info("ssh session open", "elapsed", time.Since(start).Round(time.Millisecond))
	b.sink.OnStatus(schema.StatusEvent{TabID: tabID, Connected: true})
	go b.pump(log, tabID, s)
	if b.cfg.Keepalive > 0 {
		go b.keepalive(log, tabID, s)
	}
	return nil
}

// SendInput writes to the tab's shell.
func (b *Backend) SendInput(ctx context.Context, tabID schema.TabID, data []byte) error {
	s := b.lookup(tabID)
	if s == nil {
		return schema.ErrChannelNotFound
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("write to channel: %w", err)
	}
	return nil
}

// Resize sends a window-change request for the tab's pty.
func (b *Backend) Resize(ctx context.Context, tabID schema.TabID, cols, rows int) error {
	s := b.lookup(tabID)
	if s == nil {
		return schema.ErrChannelNotFound
	}
	return s.sess.WindowChange(rows, cols)
}

// CloseSession tears down the tab's session or abandons a dial in flight.
func (b *Backend) CloseSession(ctx context.Context, tabID schema.TabID) error {
	b.mu.Lock()
	s, ok := b.sessions[tabID]
	delete(b.sessions, tabID)
	_, dialing := b.dialing[tabID]
	delete(b.dialing, tabID)
	b.mu.Unlock()
	if !ok {
		if dialing {
			return nil
		}
		return schema.ErrChannelNotFound
	}
	s.close()
	logx.WithTab(ctx, tabID).Info("ssh session closed locally")
	return nil
}

// Close tears down every session. Further opens fail with ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sessions := b.sessions
	b.sessions = make(map[schema.TabID]*session)
	b.dialing = make(map[schema.TabID]*pendingDial)
	b.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	b.log.Info("ssh backend closed", "sessions", len(sessions))
	return nil
}

func (b *Backend) reserve(tabID schema.TabID) (*pendingDial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.sessions[tabID]; ok {
		return nil, ErrSessionExists
	}
	if _, ok := b.dialing[tabID]; ok {
		return nil, ErrSessionExists
	}
	pending := &pendingDial{tabID: tabID}
	b.dialing[tabID] = pending
	return pending, nil
}

// unreserve drops the reservation unless it was already abandoned and
// replaced by a newer dial.
func (b *Backend) unreserve(pending *pendingDial) {
	b.mu.Lock()
	if b.dialing[pending.tabID] == pending {
		delete(b.dialing, pending.tabID)
	}
	b.mu.Unlock()
}

func (b *Backend) lookup(tabID schema.TabID) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[tabID]
}

// forget removes s if it is still the tab's session. It reports whether s
// was removed here, i.e. the remote side ended it.
func (b *Backend) forget(tabID schema.TabID, s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.sessions[tabID]; ok && current == s {
		delete(b.sessions, tabID)
		return true
	}
	return false
}

// pump streams stdout and stderr to the sink and reports the end of the
// session once both are drained.
func (b *Backend) pump(log pslog.Logger, tabID schema.TabID, s *session) {
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, r := range []io.Reader{s.stdout, s.stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			errs <- b.stream(tabID, r)
		}(r)
	}
	wg.Wait()
	close(errs)
	waitErr := s.sess.Wait()
	var readErr error
	for err := range errs {
		if err != nil && readErr == nil {
			readErr = err
		}
	}
	remote := b.forget(tabID, s)
	s.close()
	if !remote {
		return
	}
	status := schema.StatusEvent{TabID: tabID}
	if readErr != nil {
		status.Error = fmt.Sprintf("read error: %v", readErr)
		log.Warn("ssh session ended", "err", readErr)
	} else {
		log.Info("ssh session ended", "exit", exitStatus(waitErr))
	}
	b.sink.OnStatus(status)
}

func (b *Backend) stream(tabID schema.TabID, r io.Reader) error {
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.sink.OnData(schema.DataEvent{TabID: tabID, Data: buf[:n]})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (b *Backend) keepalive(log pslog.Logger, tabID schema.TabID, s *session) {
	ticker := time.NewTicker(b.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Warn("ssh keepalive failed", "err", err)
				_ = s.client.Close()
				return
			}
		}
	}
}

func (b *Backend) clientConfig(log pslog.Logger, profile schema.SessionProfile) (*ssh.ClientConfig, error) {
	auth, err := authMethods(profile)
	if err != nil {
		return nil, err
	}
	hostKeys, err := b.hostKeyCallback(log)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            profile.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         b.cfg.DialTimeout,
	}, nil
}

func exitStatus(err error) int {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return 0
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

package sshserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/auth"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/schema"
)

// echoTransport connects instantly and echoes input back as output.
type echoTransport struct {
	sink core.InboundSink
}

func (e *echoTransport) OpenSession(_ context.Context, tabID schema.TabID, _ schema.SessionProfile) error {
	e.sink.OnStatus(schema.StatusEvent{TabID: tabID, Connected: true})
	return nil
}

func (e *echoTransport) SendInput(_ context.Context, tabID schema.TabID, data []byte) error {
	e.sink.OnData(schema.DataEvent{TabID: tabID, Data: append([]byte("echo:"), data...)})
	return nil
}

func (e *echoTransport) Resize(context.Context, schema.TabID, int, int) error { return nil }

func (e *echoTransport) CloseSession(context.Context, schema.TabID) error { return nil }

type memoryProfiles struct {
	mu       sync.Mutex
	profiles map[schema.ProfileID]schema.SessionProfile
}

func (m *memoryProfiles) ListProfiles(context.Context) ([]schema.SessionProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.SessionProfile
	for _, p := range m.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryProfiles) GetProfile(_ context.Context, id schema.ProfileID) (schema.SessionProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return schema.SessionProfile{}, schema.ErrProfileNotFound
	}
	return p, nil
}

func (m *memoryProfiles) SaveProfile(_ context.Context, p schema.SessionProfile) (schema.SessionProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = schema.ProfileID("p" + string(rune('0'+len(m.profiles)+1)))
	}
	m.profiles[p.ID] = p
	return p, nil
}

func (m *memoryProfiles) DeleteProfile(_ context.Context, id schema.ProfileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
	return nil
}

type attachHarness struct {
	addr    string
	engine  *core.Engine
	client  ssh.Signer
	profile schema.SessionProfile
}

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

func startAttachServer(t *testing.T, totpSecret string) *attachHarness {
	t.Helper()
	dir := t.TempDir()
	client := newSigner(t)
	keysPath := filepath.Join(dir, "authorized_keys")
	if err := os.WriteFile(keysPath, ssh.MarshalAuthorizedKey(client.PublicKey()), 0o600); err != nil {
		t.Fatalf("write authorized_keys: %v", err)
	}
	authorizer, err := auth.NewAuthorizer(keysPath, totpSecret, nil)
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}

	bus := eventbus.New(64, nil)
	fanout := eventbus.NewFanout(nil)
	engine, err := core.NewEngine(schema.EngineConfig{}, core.EngineDeps{
		Transport: &echoTransport{sink: bus},
		Profiles:  &memoryProfiles{profiles: make(map[schema.ProfileID]schema.SessionProfile)},
		Renderer:  fanout,
		Bus:       bus,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = engine.Run(ctx) }()

	profile, err := engine.SaveProfile(ctx, schema.SessionProfile{Name: "lab", Host: "lab.example", Port: 22, Username: "ops", Password: "pw"})
	if err != nil {
		t.Fatalf("save profile: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &Server{
		HostKeyPath: filepath.Join(dir, "host_key"),
		Listener:    ln,
		Service:     engine,
		Auth:        authorizer,
		Events:      fanout,
	}
	done := make(chan struct{})
	go func() {
		_ = server.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		engine.Close()
		bus.Close()
	})
	return &attachHarness{addr: ln.Addr().String(), engine: engine, client: client, profile: profile}
}

func (h *attachHarness) dial(t *testing.T, methods ...ssh.AuthMethod) *ssh.Client {
	t.Helper()
	if len(methods) == 0 {
		methods = []ssh.AuthMethod{ssh.PublicKeys(h.client)}
	}
	client, err := ssh.Dial("tcp", h.addr, &ssh.ClientConfig{
		User:            "ops",
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in %q", want, b.String())
}

type attachSession struct {
	session *ssh.Session
	stdin   io.WriteCloser
	out     *lockedBuffer
}

func startAttach(t *testing.T, client *ssh.Client, command string, pty bool) *attachSession {
	t.Helper()
	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	if pty {
		if err := session.RequestPty("xterm", 40, 100, ssh.TerminalModes{}); err != nil {
			t.Fatalf("pty: %v", err)
		}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	out := &lockedBuffer{}
	session.Stdout = out
	session.Stderr = out
	if command == "" {
		err = session.Shell()
	} else {
		err = session.Start(command)
	}
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return &attachSession{session: session, stdin: stdin, out: out}
}

func waitExit(t *testing.T, session *ssh.Session) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- session.Wait() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for session exit")
		return nil
	}
}

func TestAttachNewTabConnectsEchoesAndDetaches(t *testing.T) {
	h := startAttachServer(t, "")
	client := h.dial(t)
	a := startAttach(t, client, "new "+string(h.profile.ID), true)

	a.out.waitFor(t, "attached to lab")
	a.out.waitFor(t, "Connecting to ops@lab.example:22...")

	active := h.engine.ActiveTab()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tab, _ := h.engine.Tab(active); tab.State == schema.StateConnected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if tab, _ := h.engine.Tab(active); tab.State != schema.StateConnected || tab.ProfileID != h.profile.ID {
		t.Fatalf("expected connected tab bound to profile, got %+v", tab)
	}

	if _, err := a.stdin.Write([]byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	a.out.waitFor(t, "echo:hi")

	if _, err := a.stdin.Write([]byte{'x', detachKey}); err != nil {
		t.Fatalf("write detach: %v", err)
	}
	a.out.waitFor(t, "detached")
	if err := waitExit(t, a.session); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if _, ok := h.engine.Tab(active); !ok {
		t.Fatalf("detaching must not remove the tab")
	}
}

func TestAttachListsTabs(t *testing.T) {
	h := startAttachServer(t, "")
	tabID := h.engine.EnsureAtLeastOneTab(context.Background())
	client := h.dial(t)
	a := startAttach(t, client, "list", true)
	if err := waitExit(t, a.session); err != nil {
		t.Fatalf("list exit: %v", err)
	}
	out := a.out.String()
	if !strings.Contains(out, string(tabID)+" *") || !strings.Contains(out, string(schema.StateUnbound)) {
		t.Fatalf("unexpected list output: %q", out)
	}
}

func TestAttachUnknownTabFails(t *testing.T) {
	h := startAttachServer(t, "")
	client := h.dial(t)
	a := startAttach(t, client, "nope", true)
	err := waitExit(t, a.session)
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}
	if !strings.Contains(a.out.String(), "tab not found") {
		t.Fatalf("expected tab not found diagnostic, got %q", a.out.String())
	}
}

func TestAttachRequiresPty(t *testing.T) {
	h := startAttachServer(t, "")
	client := h.dial(t)
	a := startAttach(t, client, "", false)
	_ = waitExit(t, a.session)
	if !strings.Contains(a.out.String(), "pty required") {
		t.Fatalf("expected pty required, got %q", a.out.String())
	}
}

func TestAttachEndsWhenTabRemoved(t *testing.T) {
	h := startAttachServer(t, "")
	tabID := h.engine.EnsureAtLeastOneTab(context.Background())
	client := h.dial(t)
	a := startAttach(t, client, string(tabID), true)
	a.out.waitFor(t, "attached to")
	h.engine.RemoveTab(context.Background(), tabID)
	a.out.waitFor(t, "tab closed")
	if err := waitExit(t, a.session); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	h := startAttachServer(t, "")
	_, err := ssh.Dial("tcp", h.addr, &ssh.ClientConfig{
		User:            "ops",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(newSigner(t))},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestTOTPSecondFactor(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "tabterm", AccountName: "attach"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := startAttachServer(t, key.Secret())

	answer := func(code string) ssh.AuthMethod {
		return ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = code
			}
			return answers, nil
		})
	}

	_, err = ssh.Dial("tcp", h.addr, &ssh.ClientConfig{
		User:            "ops",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(h.client), answer("badcode")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatalf("expected wrong code to be rejected")
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	client := h.dial(t, ssh.PublicKeys(h.client), answer(code))
	a := startAttach(t, client, "list", true)
	if err := waitExit(t, a.session); err != nil {
		t.Fatalf("list exit: %v", err)
	}
}

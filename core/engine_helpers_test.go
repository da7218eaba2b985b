package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/schema"
)

type openCall struct {
	tabID   schema.TabID
	profile schema.SessionProfile
}

type sendCall struct {
	tabID schema.TabID
	data  string
}

// fakeTransport records calls. OpenSession waits on gate (when set) and then
// returns openErr.
type fakeTransport struct {
	mu      sync.Mutex
	opens   []openCall
	sends   []sendCall
	resizes []string
	closes  []schema.TabID
	openErr error
	sendErr error
	gate    chan struct{}
}

func (f *fakeTransport) OpenSession(ctx context.Context, tabID schema.TabID, profile schema.SessionProfile) error {
	f.mu.Lock()
	f.opens = append(f.opens, openCall{tabID: tabID, profile: profile})
	gate := f.gate
	err := f.openErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeTransport) SendInput(ctx context.Context, tabID schema.TabID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{tabID: tabID, data: string(data)})
	return f.sendErr
}

func (f *fakeTransport) Resize(ctx context.Context, tabID schema.TabID, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, string(tabID))
	return nil
}

func (f *fakeTransport) CloseSession(ctx context.Context, tabID schema.TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, tabID)
	return nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

func (f *fakeTransport) sentTo(tabID schema.TabID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, s := range f.sends {
		if s.tabID == tabID {
			b.WriteString(s.data)
		}
	}
	return b.String()
}

func (f *fakeTransport) closed() []schema.TabID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.TabID(nil), f.closes...)
}

type fakeStore struct {
	mu       sync.Mutex
	profiles map[schema.ProfileID]schema.SessionProfile
	saves    int
}

func newFakeStore(profiles ...schema.SessionProfile) *fakeStore {
	s := &fakeStore{profiles: make(map[schema.ProfileID]schema.SessionProfile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *fakeStore) ListProfiles(ctx context.Context) ([]schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.SessionProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return schema.SessionProfile{}, schema.ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeStore) SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if profile.ID == "" {
		profile.ID = schema.ProfileID("p-" + newID())
	}
	s.profiles[profile.ID] = profile
	return profile, nil
}

func (s *fakeStore) DeleteProfile(ctx context.Context, id schema.ProfileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return schema.ErrProfileNotFound
	}
	delete(s.profiles, id)
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// recordingRenderer keeps every callback in order.
type recordingRenderer struct {
	mu          sync.Mutex
	data        map[schema.TabID]*strings.Builder
	diagnostics map[schema.TabID][]string
	lists       [][]schema.TabSnapshot
	active      []schema.TabID
	sequence    []string
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		data:        make(map[schema.TabID]*strings.Builder),
		diagnostics: make(map[schema.TabID][]string),
	}
}

func (r *recordingRenderer) OnData(tabID schema.TabID, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.data[tabID]
	if !ok {
		b = &strings.Builder{}
		r.data[tabID] = b
	}
	b.Write(data)
	r.sequence = append(r.sequence, "data:"+string(tabID))
}

func (r *recordingRenderer) OnDiagnostic(tabID schema.TabID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics[tabID] = append(r.diagnostics[tabID], text)
	r.sequence = append(r.sequence, "diag:"+string(tabID))
}

func (r *recordingRenderer) OnActiveTabChanged(tabID schema.TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, tabID)
}

func (r *recordingRenderer) OnTabListChanged(tabs []schema.TabSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, tabs)
	r.sequence = append(r.sequence, "list")
}

func (r *recordingRenderer) output(tabID schema.TabID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.data[tabID]; ok {
		return b.String()
	}
	return ""
}

func (r *recordingRenderer) diagnosticsFor(tabID schema.TabID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.diagnostics[tabID]...)
}

// statesSeen lists every state the tab had in a published tab list.
func (r *recordingRenderer) statesSeen(tabID schema.TabID) []schema.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schema.ConnectionState
	for _, list := range r.lists {
		for _, snap := range list {
			if snap.ID == tabID {
				out = append(out, snap.State)
			}
		}
	}
	return out
}

func (r *recordingRenderer) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

type engineHarness struct {
	engine    *Engine
	transport *fakeTransport
	store     *fakeStore
	renderer  *recordingRenderer
}

// newEngineHarness builds an engine without starting Run; tests apply inbound
// events one at a time with pump.
func newEngineHarness(t *testing.T, cfg schema.EngineConfig, profiles ...schema.SessionProfile) *engineHarness {
	t.Helper()
	h := &engineHarness{
		transport: &fakeTransport{},
		store:     newFakeStore(profiles...),
		renderer:  newRecordingRenderer(),
	}
	engine, err := NewEngine(cfg, EngineDeps{
		Transport: h.transport,
		Profiles:  h.store,
		Renderer:  h.renderer,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	t.Cleanup(engine.Close)
	return h
}

// pump applies the next inbound event.
func (h *engineHarness) pump(t *testing.T) eventbus.Event {
	t.Helper()
	select {
	case event := <-h.engine.bus.Inbound():
		h.engine.handle(context.Background(), event)
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound event")
	}
	return eventbus.Event{}
}

// pumpQueued applies every event already in the inbound queue.
func (h *engineHarness) pumpQueued(t *testing.T) {
	t.Helper()
	for {
		select {
		case event := <-h.engine.bus.Inbound():
			h.engine.handle(context.Background(), event)
		default:
			return
		}
	}
}

func (h *engineHarness) state(t *testing.T, tabID schema.TabID) schema.ConnectionState {
	t.Helper()
	snap, ok := h.engine.Tab(tabID)
	if !ok {
		t.Fatalf("tab %q missing", tabID)
	}
	return snap.State
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testProfile(id, name string) schema.SessionProfile {
	return schema.SessionProfile{
		ID:       schema.ProfileID(id),
		Name:     name,
		Host:     "10.0.0.5",
		Port:     22,
		Username: "ops",
		AuthType: schema.AuthPassword,
		Password: "secret",
	}
}

var errAuthFailed = errors.New("auth failed")

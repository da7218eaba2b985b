package core

import (
	"context"
	"testing"

	"pkt.systems/tabterm/schema"
)

func TestAddTabWithoutProfileStaysUnbound(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{})
	id := h.engine.AddTab(context.Background(), nil)

	snap, ok := h.engine.Tab(id)
	if !ok {
		t.Fatalf("expected tab")
	}
	if snap.State != schema.StateUnbound {
		t.Fatalf("expected unbound, got %q", snap.State)
	}
	if snap.Title != schema.DefaultTabTitle {
		t.Fatalf("expected default title, got %q", snap.Title)
	}
	if !snap.Active {
		t.Fatalf("expected new tab active")
	}
	if h.transport.openCount() != 0 {
		t.Fatalf("expected no open-session call, got %d", h.transport.openCount())
	}
	if _, ok := h.engine.bindings.lookup(id); ok {
		t.Fatalf("expected no binding for a tab without profile")
	}
}

func TestAddTabWithProfileBindsWithoutConnecting(t *testing.T) {
	profile := testProfile("p1", "prod-db")
	h := newEngineHarness(t, schema.EngineConfig{}, profile)
	id := h.engine.AddTab(context.Background(), &profile)

	snap, _ := h.engine.Tab(id)
	if snap.Title != "prod-db" {
		t.Fatalf("expected profile title, got %q", snap.Title)
	}
	if snap.ProfileID != "p1" {
		t.Fatalf("expected profile id, got %q", snap.ProfileID)
	}
	if entry, ok := h.engine.bindings.lookup(id); !ok || entry.ProfileID != "p1" {
		t.Fatalf("expected binding to p1, got %+v ok=%v", entry, ok)
	}
	if h.transport.openCount() != 0 {
		t.Fatalf("AddTab must not connect")
	}
}

func TestAddTabNotifiesRenderer(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{})
	id := h.engine.AddTab(context.Background(), nil)
	if h.renderer.listCount() != 1 {
		t.Fatalf("expected one tab list notification, got %d", h.renderer.listCount())
	}
	h.renderer.mu.Lock()
	defer h.renderer.mu.Unlock()
	if len(h.renderer.active) != 1 || h.renderer.active[0] != id {
		t.Fatalf("expected active tab notification for %q, got %v", id, h.renderer.active)
	}
}

func TestRemoveActiveTabActivatesLast(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{})
	ctx := context.Background()
	first := h.engine.AddTab(ctx, nil)
	second := h.engine.AddTab(ctx, nil)
	third := h.engine.AddTab(ctx, nil)
	h.engine.SetActiveTab(ctx, first)

	h.engine.RemoveTab(ctx, first)
	if got := h.engine.ActiveTab(); got != third {
		t.Fatalf("expected %q active, got %q", third, got)
	}
	h.engine.RemoveTab(ctx, third)
	if got := h.engine.ActiveTab(); got != second {
		t.Fatalf("expected %q active, got %q", second, got)
	}
	h.engine.RemoveTab(ctx, second)
	if got := h.engine.ActiveTab(); got != "" {
		t.Fatalf("expected no active tab, got %q", got)
	}
	if len(h.engine.Tabs()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestUnknownTabOperationsAreNoops(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{})
	ctx := context.Background()
	id := h.engine.AddTab(ctx, nil)
	before := h.renderer.listCount()

	h.engine.SetActiveTab(ctx, "missing")
	h.engine.UpdateTitle(ctx, "missing", "x")
	h.engine.UpdateConnectionState(ctx, "missing", schema.StateConnected)
	h.engine.RemoveTab(ctx, "missing")
	h.engine.Send(ctx, "missing", []byte("ls\n"))

	if got := h.engine.ActiveTab(); got != id {
		t.Fatalf("expected active tab unchanged, got %q", got)
	}
	if h.renderer.listCount() != before {
		t.Fatalf("expected no notifications for unknown ids")
	}
	if err := h.engine.Connect(ctx, "missing", "p1"); err != schema.ErrTabNotFound {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
}

func TestSetActiveTabKeepsSingleActive(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{})
	ctx := context.Background()
	a := h.engine.AddTab(ctx, nil)
	h.engine.AddTab(ctx, nil)
	h.engine.SetActiveTab(ctx, a)
	active := 0
	for _, snap := range h.engine.Tabs() {
		if snap.Active {
			active++
			if snap.ID != a {
				t.Fatalf("unexpected active tab %q", snap.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected one active tab, got %d", active)
	}
	before := h.renderer.listCount()
	h.engine.SetActiveTab(ctx, a)
	if h.renderer.listCount() != before {
		t.Fatalf("re-activating the active tab should not notify")
	}
}

func TestUpdateTitleTruncates(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{TitleMax: 8})
	ctx := context.Background()
	id := h.engine.AddTab(ctx, nil)
	h.engine.UpdateTitle(ctx, id, "  production-database  ")
	snap, _ := h.engine.Tab(id)
	if snap.Title != "produ..." {
		t.Fatalf("expected truncated title, got %q", snap.Title)
	}
	h.engine.UpdateTitle(ctx, id, "   ")
	snap, _ = h.engine.Tab(id)
	if snap.Title != "produ..." {
		t.Fatalf("blank title should be ignored, got %q", snap.Title)
	}
}

func TestEnsureAtLeastOneTab(t *testing.T) {
	h := newEngineHarness(t, schema.EngineConfig{DefaultTitle: "shell"})
	ctx := context.Background()
	id := h.engine.EnsureAtLeastOneTab(ctx)
	if id == "" {
		t.Fatalf("expected a tab id")
	}
	if again := h.engine.EnsureAtLeastOneTab(ctx); again != id {
		t.Fatalf("expected existing tab %q, got %q", id, again)
	}
	tabs := h.engine.Tabs()
	if len(tabs) != 1 || tabs[0].Title != "shell" {
		t.Fatalf("expected one tab titled shell, got %+v", tabs)
	}
}

func TestRemoveTabReleasesBindingAndClosesSession(t *testing.T) {
	profile := testProfile("p1", "web")
	h := newEngineHarness(t, schema.EngineConfig{}, profile)
	ctx := context.Background()
	id := h.engine.AddTab(ctx, &profile)
	if err := h.engine.Connect(ctx, id, "p1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.pump(t)
	if got := h.state(t, id); got != schema.StateConnected {
		t.Fatalf("expected connected, got %q", got)
	}

	h.engine.RemoveTab(ctx, id)
	if _, ok := h.engine.bindings.lookup(id); ok {
		t.Fatalf("expected binding released")
	}
	waitFor(t, "close session", func() bool { return len(h.transport.closed()) == 1 })
	if got := h.transport.closed()[0]; got != id {
		t.Fatalf("expected close for %q, got %q", id, got)
	}
}

func TestUpdateConnectionStateMirrorsBinding(t *testing.T) {
	profile := testProfile("p1", "web")
	h := newEngineHarness(t, schema.EngineConfig{}, profile)
	ctx := context.Background()
	id := h.engine.AddTab(ctx, &profile)
	h.engine.UpdateConnectionState(ctx, id, schema.StateDisconnected)
	if got := h.state(t, id); got != schema.StateDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
	if entry, _ := h.engine.bindings.lookup(id); entry.State != schema.StateDisconnected {
		t.Fatalf("expected binding state mirrored, got %q", entry.State)
	}
}

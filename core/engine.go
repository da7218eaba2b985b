package core

import (
	"context"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

// Engine owns the tab registry and the session binding table. All mutation
// goes through its methods; inbound transport events are applied by Run.
type Engine struct {
	cfg       schema.EngineConfig
	transport Transport
	profiles  ProfileStore
	renderer  Renderer
	bus       *eventbus.Bus
	ownsBus   bool
	logger    pslog.Logger
	outbound  *dispatcher

	mu       sync.Mutex
	tabs     registry
	bindings bindingTable
	attempts uint64

	// emitMu orders renderer callbacks. It is taken before mu is released so
	// callbacks observe mutations in the order they were committed.
	emitMu sync.Mutex
}

// NewEngine constructs the engine.
func NewEngine(cfg schema.EngineConfig, deps EngineDeps) (*Engine, error) {
	normalized, err := schema.NormalizeEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = nopRenderer{}
	}
	bus := deps.Bus
	ownsBus := false
	if bus == nil {
		bus = eventbus.New(normalized.InboundDepth, logger)
		ownsBus = true
	}
	e := &Engine{
		cfg:       normalized,
		transport: deps.Transport,
		profiles:  deps.Profiles,
		renderer:  renderer,
		bus:       bus,
		ownsBus:   ownsBus,
		logger:    logger,
		bindings:  bindingTable{entries: map[schema.TabID]binding{}},
	}
	e.outbound = newDispatcher(deps.Transport, e.stateOf, e.reportSendFailure)
	return e, nil
}

// Inbound returns the sink transports publish into.
func (e *Engine) Inbound() InboundSink {
	return e.bus
}

// Run consumes inbound events until ctx is done or the bus is closed.
func (e *Engine) Run(ctx context.Context) error {
	log := pslog.Ctx(ctx)
	log.Info("engine dispatch start")
	defer log.Info("engine dispatch stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.bus.Done():
			return nil
		case event := <-e.bus.Inbound():
			e.handle(ctx, event)
		}
	}
}

// Close stops outbound workers and, when the engine created it, the bus.
func (e *Engine) Close() {
	e.outbound.closeAll()
	if e.ownsBus {
		e.bus.Close()
	}
}

func (e *Engine) handle(ctx context.Context, event eventbus.Event) {
	switch event.Type {
	case eventbus.EventData:
		e.handleData(ctx, event.TabID, event.Data)
	case eventbus.EventStatus:
		e.handleStatus(ctx, event.Status)
	default:
		pslog.Ctx(ctx).Debug("engine inbound event ignored", "type", event.Type, "tab", event.TabID)
	}
}

// EnsureAtLeastOneTab creates a default tab when the registry is empty and
// returns the active tab id.
func (e *Engine) EnsureAtLeastOneTab(ctx context.Context) schema.TabID {
	id, _ := e.addTab(ctx, nil, true)
	return id
}

// AddTab appends a tab and makes it active. When profile is given, the tab
// is titled after it and bound to its id; no connection is started.
func (e *Engine) AddTab(ctx context.Context, profile *schema.SessionProfile) schema.TabID {
	id, _ := e.addTab(ctx, profile, false)
	return id
}

func (e *Engine) addTab(ctx context.Context, profile *schema.SessionProfile, onlyIfEmpty bool) (schema.TabID, bool) {
	t := tab{ID: schema.TabID(newID()), Title: e.cfg.DefaultTitle, State: schema.StateUnbound}
	if profile != nil {
		if name := strings.TrimSpace(profile.Name); name != "" {
			t.Title = e.formatTitle(schema.TabTitle(name))
		}
		t.ProfileID = profile.ID
	}

	e.mu.Lock()
	if onlyIfEmpty {
		if current, ok := e.tabs.active(); ok {
			e.mu.Unlock()
			return current.ID, false
		}
	}
	e.tabs = e.tabs.add(t)
	if t.ProfileID != "" {
		e.bindings = e.bindings.with(t.ID, binding{ProfileID: t.ProfileID, State: schema.StateUnbound})
	}
	tabs := e.tabs.snapshots()
	e.unlockAndEmit(
		tabListEmission(tabs),
		activeEmission(t.ID),
	)

	logx.WithTabProfile(ctx, t.ID, t.ProfileID).Info("engine tab added", "title", t.Title, "tabs", len(tabs))
	return t.ID, true
}

// RemoveTab removes the tab, releases its binding and asks the transport to
// close any session or dial left by a connect attempt. Unknown ids are ignored.
func (e *Engine) RemoveTab(ctx context.Context, tabID schema.TabID) {
	log := logx.WithTab(ctx, tabID)
	e.mu.Lock()
	next, removed, ok := e.tabs.remove(tabID)
	if !ok {
		e.mu.Unlock()
		log.Debug("engine tab remove ignored", "err", schema.ErrTabNotFound)
		return
	}
	bound, hadBinding := e.bindings.lookup(tabID)
	e.tabs = next
	e.bindings = e.bindings.without(tabID)
	emits := []emission{tabListEmission(e.tabs.snapshots())}
	if removed.Active {
		var nextActive schema.TabID
		if current, ok := e.tabs.active(); ok {
			nextActive = current.ID
		}
		emits = append(emits, activeEmission(nextActive))
	}
	e.unlockAndEmit(emits...)

	e.outbound.release(tabID)
	log.Info("engine tab removed", "state", removed.State)
	if hadBinding && bound.Attempt > 0 && e.transport != nil {
		go e.closeSession(detachContext(ctx), tabID)
	}
}

func (e *Engine) closeSession(ctx context.Context, tabID schema.TabID) {
	if err := e.transport.CloseSession(ctx, tabID); err != nil {
		logx.WithTab(ctx, tabID).Debug("engine session close failed", "err", err)
	}
}

// SetActiveTab makes the tab active. Unknown ids are ignored.
func (e *Engine) SetActiveTab(ctx context.Context, tabID schema.TabID) {
	e.mu.Lock()
	next, changed := e.tabs.activate(tabID)
	if !changed {
		e.mu.Unlock()
		return
	}
	e.tabs = next
	e.unlockAndEmit(
		tabListEmission(e.tabs.snapshots()),
		activeEmission(tabID),
	)
	logx.WithTab(ctx, tabID).Debug("engine tab activated")
}

// UpdateTitle renames the tab. Unknown ids and blank titles are ignored.
func (e *Engine) UpdateTitle(ctx context.Context, tabID schema.TabID, title schema.TabTitle) {
	title = schema.TabTitle(strings.TrimSpace(string(title)))
	if title == "" {
		return
	}
	title = e.formatTitle(title)
	e.mu.Lock()
	next, changed := e.tabs.update(tabID, func(t *tab) { t.Title = title })
	if !changed {
		e.mu.Unlock()
		return
	}
	e.tabs = next
	e.unlockAndEmit(tabListEmission(e.tabs.snapshots()))
	logx.WithTab(ctx, tabID).Debug("engine tab renamed", "title", title)
}

// UpdateConnectionState overrides the tab's lifecycle state. Unknown ids are
// ignored.
func (e *Engine) UpdateConnectionState(ctx context.Context, tabID schema.TabID, state schema.ConnectionState) {
	e.mu.Lock()
	if _, ok := e.tabs.get(tabID); !ok {
		e.mu.Unlock()
		return
	}
	var changed bool
	if current, bound := e.bindings.lookup(tabID); bound {
		current.State = state
		current.Error = ""
		changed = e.setStateLocked(tabID, current)
	} else {
		e.tabs, changed = e.tabs.update(tabID, func(t *tab) { t.State = state })
	}
	if !changed {
		e.mu.Unlock()
		return
	}
	e.unlockAndEmit(tabListEmission(e.tabs.snapshots()))
	logx.WithTab(ctx, tabID).Debug("engine tab state set", "state", state)
}

// Tabs returns a snapshot of all tabs in order.
func (e *Engine) Tabs() []schema.TabSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs.snapshots()
}

// Tab returns a snapshot of a single tab.
func (e *Engine) Tab(tabID schema.TabID) (schema.TabSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tabs.get(tabID)
	if !ok {
		return schema.TabSnapshot{}, false
	}
	return t.Snapshot(), true
}

// ActiveTab returns the active tab id, or empty when there are no tabs.
func (e *Engine) ActiveTab() schema.TabID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tabs.active(); ok {
		return t.ID
	}
	return ""
}

// setStateLocked writes the binding and mirrors its state onto the tab
// record. It reports whether anything changed.
func (e *Engine) setStateLocked(tabID schema.TabID, next binding) bool {
	current, ok := e.bindings.lookup(tabID)
	if ok && current == next {
		return false
	}
	e.bindings = e.bindings.with(tabID, next)
	tabs, _ := e.tabs.update(tabID, func(t *tab) {
		t.State = next.State
		t.ProfileID = next.ProfileID
	})
	e.tabs = tabs
	return true
}

func (e *Engine) stateOf(tabID schema.TabID) (schema.ConnectionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tabs.get(tabID)
	if !ok {
		return "", false
	}
	return t.State, true
}

func (e *Engine) formatTitle(title schema.TabTitle) schema.TabTitle {
	return schema.TabTitle(formatTabName(string(title), e.cfg.TitleMax, "..."))
}

func formatTabName(name string, max int, suffix string) string {
	runes := []rune(name)
	if max <= 0 || len(runes) <= max {
		return name
	}
	cut := max - len([]rune(suffix))
	if cut < 1 {
		return string(runes[:max])
	}
	return string(runes[:cut]) + suffix
}

// detachContext keeps the logger and log markers of ctx but not its
// cancellation, for work that outlives the calling request.
func detachContext(ctx context.Context) context.Context {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
	}
	return base
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

// Connect binds the tab to a profile and starts a connection attempt. The
// outcome is reported asynchronously through the tab state and diagnostics;
// only an unknown or busy tab is returned as an error.
func (e *Engine) Connect(ctx context.Context, tabID schema.TabID, profileID schema.ProfileID) error {
	log := logx.WithTabProfile(ctx, tabID, profileID)
	profile, resolveErr := e.resolveProfile(ctx, profileID)

	e.mu.Lock()
	t, ok := e.tabs.get(tabID)
	if !ok {
		e.mu.Unlock()
		return schema.ErrTabNotFound
	}
	current, _ := e.bindings.lookup(tabID)
	if current.State == schema.StateConnecting || current.State == schema.StateConnected {
		e.mu.Unlock()
		log.Debug("engine connect rejected", "state", current.State)
		return schema.ErrTabBusy
	}
	e.attempts++
	attempt := e.attempts
	next := binding{ProfileID: profileID, State: schema.StateConnecting, Attempt: attempt}
	var failure error
	switch {
	case resolveErr != nil:
		failure = resolveErr
	case e.transport == nil:
		failure = schema.ErrTransportUnavailable
	}
	if failure != nil {
		next.State = schema.StateErrored
		next.Error = failure.Error()
	}
	e.setStateLocked(tabID, next)
	if failure == nil && t.Title == e.cfg.DefaultTitle && profile.Name != "" {
		e.tabs, _ = e.tabs.update(tabID, func(rec *tab) { rec.Title = e.formatTitle(schema.TabTitle(profile.Name)) })
	}
	emits := []emission{tabListEmission(e.tabs.snapshots())}
	if failure != nil {
		emits = append(emits, diagnosticEmission(tabID, schema.FormatDiagnostic("Connection failed: "+failure.Error())))
	} else {
		emits = append(emits, diagnosticEmission(tabID, schema.FormatNotice("Connecting to "+profile.Target()+"...")))
	}
	e.unlockAndEmit(emits...)

	if failure != nil {
		log.Warn("engine connect failed", "attempt", attempt, "err", failure)
		return nil
	}
	logx.WithTarget(log, profile).Info("engine connect start", "attempt", attempt)
	runCtx := logx.ContextWithProfile(logx.ContextWithTabLogger(detachContext(ctx), log, tabID), profile.ID)
	go e.openSession(runCtx, tabID, attempt, profile)
	if e.cfg.ConnectWatchdog > 0 {
		e.startWatchdog(tabID, attempt, e.cfg.ConnectWatchdog)
	}
	return nil
}

func (e *Engine) resolveProfile(ctx context.Context, profileID schema.ProfileID) (schema.SessionProfile, error) {
	if profileID == "" {
		return schema.SessionProfile{}, fmt.Errorf("%w: empty profile id", schema.ErrProfileNotFound)
	}
	if e.profiles == nil {
		return schema.SessionProfile{}, schema.ErrProfileStoreUnavailable
	}
	profile, err := e.profiles.GetProfile(ctx, profileID)
	if err != nil {
		return schema.SessionProfile{}, err
	}
	return profile, nil
}

// openSession runs the transport call and feeds its outcome back through
// the inbound queue so it is ordered with the transport's own events.
func (e *Engine) openSession(ctx context.Context, tabID schema.TabID, attempt uint64, profile schema.SessionProfile) {
	err := e.transport.OpenSession(ctx, tabID, profile)
	result := schema.StatusEvent{TabID: tabID, Connected: err == nil, Attempt: attempt}
	if err != nil {
		if !errors.Is(err, schema.ErrConnectRejected) {
			err = fmt.Errorf("%w: %v", schema.ErrConnectRejected, err)
		}
		result.Error = err.Error()
	}
	e.bus.OnStatus(result)
}

func (e *Engine) startWatchdog(tabID schema.TabID, attempt uint64, after time.Duration) {
	time.AfterFunc(after, func() {
		e.bus.OnStatus(schema.StatusEvent{
			TabID:    tabID,
			Attempt:  attempt,
			Error:    fmt.Sprintf("connect timed out after %s", after),
			TimedOut: true,
		})
	})
}

func (e *Engine) abandonAttempt(ctx context.Context, tabID schema.TabID, attempt uint64) {
	if e.transport == nil {
		return
	}
	if err := e.transport.CloseSession(ctx, tabID); err != nil {
		logx.WithTab(ctx, tabID).Debug("engine abandon dial failed", "attempt", attempt, "err", err)
	}
}

// handleStatus applies a status event. Push events (attempt zero) apply in
// arrival order; attempt results apply only while that attempt is still
// connecting.
func (e *Engine) handleStatus(ctx context.Context, event schema.StatusEvent) {
	log := logx.WithTab(ctx, event.TabID)
	e.mu.Lock()
	current, ok := e.bindings.lookup(event.TabID)
	if !ok {
		e.mu.Unlock()
		log.Debug("engine status dropped", "err", schema.ErrUnknownRouting, "connected", event.Connected)
		return
	}
	if event.Attempt != 0 && (event.Attempt != current.Attempt || current.State != schema.StateConnecting) {
		e.mu.Unlock()
		log.Debug("engine attempt result dropped", "attempt", event.Attempt, "current_attempt", current.Attempt, "state", current.State)
		return
	}
	if event.TimedOut {
		// The tab stays connecting until the transport has dropped the dial.
		e.mu.Unlock()
		e.abandonAttempt(ctx, event.TabID, event.Attempt)
		e.mu.Lock()
		current, ok = e.bindings.lookup(event.TabID)
		if !ok || current.Attempt != event.Attempt || current.State != schema.StateConnecting {
			e.mu.Unlock()
			log.Debug("engine watchdog result dropped", "attempt", event.Attempt)
			return
		}
	}
	next := current
	next.Error = event.Error
	var diagnostic string
	switch {
	case event.Connected:
		next.State = schema.StateConnected
		next.Error = ""
	case event.Error != "":
		next.State = schema.StateErrored
		if event.Attempt != 0 {
			diagnostic = schema.FormatDiagnostic("Connection failed: " + event.Error)
		} else {
			diagnostic = schema.FormatDiagnostic("Error: " + event.Error)
		}
	default:
		next.State = schema.StateDisconnected
		diagnostic = schema.FormatNotice("Connection closed")
	}
	if !e.setStateLocked(event.TabID, next) {
		e.mu.Unlock()
		log.Trace("engine status unchanged", "state", next.State)
		return
	}
	emits := []emission{tabListEmission(e.tabs.snapshots())}
	if diagnostic != "" {
		emits = append(emits, diagnosticEmission(event.TabID, diagnostic))
	}
	e.unlockAndEmit(emits...)

	if next.State == schema.StateErrored {
		log.Warn("engine tab errored", "from", current.State, "attempt", event.Attempt, "err", event.Error)
		return
	}
	log.Info("engine tab state changed", "from", current.State, "to", next.State)
}

// handleData forwards output for connected tabs and drops everything else.
func (e *Engine) handleData(ctx context.Context, tabID schema.TabID, data []byte) {
	e.mu.Lock()
	current, ok := e.bindings.lookup(tabID)
	if !ok || current.State != schema.StateConnected {
		e.mu.Unlock()
		reason := schema.ErrUnknownRouting.Error()
		if ok {
			reason = string(current.State)
		}
		logx.WithTab(ctx, tabID).Trace("engine data dropped", "bytes", len(data), "reason", reason)
		return
	}
	e.unlockAndEmit(dataEmission(tabID, data))
}

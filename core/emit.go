package core

import "pkt.systems/tabterm/schema"

type emission func(Renderer)

// unlockAndEmit releases e.mu and delivers the emissions in order. The
// caller must hold e.mu.
func (e *Engine) unlockAndEmit(emits ...emission) {
	if len(emits) == 0 {
		e.mu.Unlock()
		return
	}
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	for _, emit := range emits {
		emit(e.renderer)
	}
}

func tabListEmission(tabs []schema.TabSnapshot) emission {
	return func(r Renderer) { r.OnTabListChanged(tabs) }
}

func activeEmission(tabID schema.TabID) emission {
	return func(r Renderer) { r.OnActiveTabChanged(tabID) }
}

func diagnosticEmission(tabID schema.TabID, text string) emission {
	return func(r Renderer) { r.OnDiagnostic(tabID, text) }
}

func dataEmission(tabID schema.TabID, data []byte) emission {
	return func(r Renderer) { r.OnData(tabID, data) }
}

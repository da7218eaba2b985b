package tabterm

import (
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/schema"
)

type renderFanout struct {
	renderers []core.Renderer
}

func (f renderFanout) OnData(tabID schema.TabID, data []byte) {
	for _, r := range f.renderers {
		if r == nil {
			continue
		}
		r.OnData(tabID, data)
	}
}

func (f renderFanout) OnDiagnostic(tabID schema.TabID, text string) {
	for _, r := range f.renderers {
		if r == nil {
			continue
		}
		r.OnDiagnostic(tabID, text)
	}
}

func (f renderFanout) OnActiveTabChanged(tabID schema.TabID) {
	for _, r := range f.renderers {
		if r == nil {
			continue
		}
		r.OnActiveTabChanged(tabID)
	}
}

func (f renderFanout) OnTabListChanged(tabs []schema.TabSnapshot) {
	for _, r := range f.renderers {
		if r == nil {
			continue
		}
		r.OnTabListChanged(tabs)
	}
}

package core

import "pkt.systems/tabterm/schema"

// Renderer receives tab output and tab-list changes from the engine.
// Calls are serialized; implementations must not call mutating Engine
// methods synchronously from a callback.
type Renderer interface {
	OnData(tabID schema.TabID, data []byte)
	OnDiagnostic(tabID schema.TabID, text string)
	OnActiveTabChanged(tabID schema.TabID)
	OnTabListChanged(tabs []schema.TabSnapshot)
}

type nopRenderer struct{}

func (nopRenderer) OnData(schema.TabID, []byte) {}
func (nopRenderer) OnDiagnostic(schema.TabID, string) {}
func (nopRenderer) OnActiveTabChanged(schema.TabID) {}
func (nopRenderer) OnTabListChanged([]schema.TabSnapshot) {}

package core

import (
	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/eventbus"
)

// EngineDeps captures optional dependencies for the engine.
type EngineDeps struct {
	Transport Transport
	Profiles  ProfileStore
	Renderer  Renderer
	// Bus is the inbound queue the transport publishes into. One is created
	// when nil; transports must then be wired to Engine.Inbound().
	Bus    *eventbus.Bus
	Logger pslog.Logger
}

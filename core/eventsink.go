package core

import "pkt.systems/tabterm/schema"

// InboundSink receives push events from a transport.
type InboundSink interface {
	OnData(event schema.DataEvent)
	OnStatus(event schema.StatusEvent)
}

package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventData carries output bytes for a tab.
	EventData EventType = "data"
	// EventStatus carries connection state changes for a tab.
	EventStatus EventType = "status"
	// EventDiagnostic carries a rendered diagnostic line for a tab.
	EventDiagnostic EventType = "diagnostic"
	// EventActiveTab carries the newly active tab.
	EventActiveTab EventType = "active_tab"
	// EventTabList carries the full tab list after a change.
	EventTabList EventType = "tab_list"
)

// Event is the tagged envelope shared by the inbound queue and UI subscribers.
type Event struct {
	Type   EventType
	TabID  schema.TabID
	Data   []byte
	Status schema.StatusEvent
	Text   string
	Tabs   []schema.TabSnapshot
}

// Bus is the single ordered inbound queue between transports and the dispatch loop.
type Bus struct {
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	log       pslog.Logger
}

// New constructs a Bus with the given queue depth.
func New(depth int, logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if depth <= 0 {
		depth = schema.DefaultInboundDepth
	}
	return &Bus{
		queue: make(chan Event, depth),
		done:  make(chan struct{}),
		log:   logger,
	}
}

// OnData enqueues a data event from a transport.
func (b *Bus) OnData(event schema.DataEvent) {
	data := append([]byte(nil), event.Data...)
	b.enqueue(Event{Type: EventData, TabID: event.TabID, Data: data})
}

// OnStatus enqueues a status event from a transport.
func (b *Bus) OnStatus(event schema.StatusEvent) {
	b.enqueue(Event{Type: EventStatus, TabID: event.TabID, Status: event})
}

// Inbound exposes the queue to the dispatch loop.
func (b *Bus) Inbound() <-chan Event {
	if b == nil {
		return nil
	}
	return b.queue
}

// Done is closed once the bus stops accepting events.
func (b *Bus) Done() <-chan struct{} {
	if b == nil {
		return nil
	}
	return b.done
}

// Close stops accepting events. Publishers blocked on a full queue are released.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		close(b.done)
		b.log.Debug("eventbus closed", "pending", len(b.queue))
	})
}

// enqueue blocks while the queue is full so events for a tab keep their order.
func (b *Bus) enqueue(event Event) {
	if b == nil {
		return
	}
	select {
	case <-b.done:
		b.log.Trace("eventbus dropped after close", "type", event.Type, "tab", event.TabID)
		return
	default:
	}
	select {
	case b.queue <- event:
	case <-b.done:
		b.log.Trace("eventbus dropped after close", "type", event.Type, "tab", event.TabID)
	}
}

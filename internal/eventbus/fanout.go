package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// Fanout delivers renderer events to per-tab subscribers.
// Subscribers keyed by the empty tab id receive every event.
type Fanout struct {
	mu    sync.Mutex
	subs  map[schema.TabID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// NewFanout constructs a Fanout.
func NewFanout(logger pslog.Logger) *Fanout {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Fanout{
		subs:  make(map[schema.TabID]map[chan Event]struct{}),
		log:   logger,
		depth: 1024,
	}
}

// Subscribe registers a subscriber for the tab and returns a channel + cancel.
func (f *Fanout) Subscribe(tabID schema.TabID) (<-chan Event, func()) {
	if f == nil {
		return nil, func() {}
	}
	ch := make(chan Event, f.depth)
	f.mu.Lock()
	tabSubs := f.subs[tabID]
	if tabSubs == nil {
		tabSubs = make(map[chan Event]struct{})
		f.subs[tabID] = tabSubs
	}
	tabSubs[ch] = struct{}{}
	count := len(tabSubs)
	f.mu.Unlock()
	f.log.With("tab", tabID).Debug("fanout subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			if subs := f.subs[tabID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(f.subs, tabID)
				}
			}
			f.mu.Unlock()
			close(ch)
			f.log.With("tab", tabID).Debug("fanout unsubscribe")
		})
	}
}

// OnData implements core.Renderer.
func (f *Fanout) OnData(tabID schema.TabID, data []byte) {
	f.publish(tabID, Event{Type: EventData, TabID: tabID, Data: append([]byte(nil), data...)})
}

// OnDiagnostic implements core.Renderer.
func (f *Fanout) OnDiagnostic(tabID schema.TabID, text string) {
	f.publish(tabID, Event{Type: EventDiagnostic, TabID: tabID, Text: text})
}

// OnActiveTabChanged implements core.Renderer.
func (f *Fanout) OnActiveTabChanged(tabID schema.TabID) {
	f.broadcast(Event{Type: EventActiveTab, TabID: tabID})
}

// OnTabListChanged implements core.Renderer.
func (f *Fanout) OnTabListChanged(tabs []schema.TabSnapshot) {
	f.broadcast(Event{Type: EventTabList, Tabs: append([]schema.TabSnapshot(nil), tabs...)})
}

func (f *Fanout) publish(tabID schema.TabID, event Event) {
	if f == nil {
		return
	}
	f.mu.Lock()
	subs := make([]chan Event, 0, len(f.subs[tabID])+len(f.subs[""]))
	for sub := range f.subs[tabID] {
		subs = append(subs, sub)
	}
	if tabID != "" {
		for sub := range f.subs[""] {
			subs = append(subs, sub)
		}
	}
	f.deliverLocked(subs, event)
	f.mu.Unlock()
}

func (f *Fanout) broadcast(event Event) {
	if f == nil {
		return
	}
	f.mu.Lock()
	var subs []chan Event
	for _, tabSubs := range f.subs {
		for sub := range tabSubs {
			subs = append(subs, sub)
		}
	}
	f.deliverLocked(subs, event)
	f.mu.Unlock()
}

// deliverLocked runs under f.mu so a concurrent cancel cannot close a channel mid-send.
func (f *Fanout) deliverLocked(subs []chan Event, event Event) {
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		f.log.With("tab", event.TabID).Trace("fanout dropped", "type", event.Type, "count", dropped)
	}
}

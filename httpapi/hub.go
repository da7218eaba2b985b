package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/schema"
)

// Stream event types.
const (
	EventSnapshot   = "snapshot"
	EventData       = "data"
	EventDiagnostic = "diagnostic"
	EventTabs       = "tabs"
	EventActive     = "active"
)

// Diagnostic levels carried on diagnostic events.
const (
	LevelError  = "error"
	LevelNotice = "notice"
)

// StreamEvent is sent to SSE clients. Data is raw terminal output and is
// base64 encoded on the wire.
type StreamEvent struct {
	Seq       uint64               `json:"seq"`
	Type      string               `json:"type"`
	TabID     schema.TabID         `json:"tab_id,omitempty"`
	Data      []byte               `json:"data,omitempty"`
	Text      string               `json:"text,omitempty"`
	Level     string               `json:"level,omitempty"`
	Tabs      []schema.TabSnapshot `json:"tabs,omitempty"`
	ActiveTab schema.TabID         `json:"active_tab,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Hub sequences renderer events, keeps a bounded history for replay and fans
// events out to stream subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	subs        map[chan StreamEvent]struct{}
	historySize int
	log         pslog.Logger
}

var _ core.Renderer = (*Hub)(nil)

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		subs:        make(map[chan StreamEvent]struct{}),
		historySize: historySize,
		log:         logger,
	}
}

// OnData implements core.Renderer.
func (h *Hub) OnData(tabID schema.TabID, data []byte) {
	h.publish(StreamEvent{Type: EventData, TabID: tabID, Data: append([]byte(nil), data...)})
}

// OnDiagnostic implements core.Renderer.
func (h *Hub) OnDiagnostic(tabID schema.TabID, text string) {
	level := LevelNotice
	if schema.IsDiagnostic(text) {
		level = LevelError
	}
	h.publish(StreamEvent{Type: EventDiagnostic, TabID: tabID, Text: text, Level: level})
}

// OnActiveTabChanged implements core.Renderer.
func (h *Hub) OnActiveTabChanged(tabID schema.TabID) {
	h.publish(StreamEvent{Type: EventActive, ActiveTab: tabID})
}

// OnTabListChanged implements core.Renderer.
func (h *Hub) OnTabListChanged(tabs []schema.TabSnapshot) {
	h.publish(StreamEvent{Type: EventTabs, Tabs: append([]schema.TabSnapshot(nil), tabs...)})
}

// Subscribe registers a subscriber and returns the current sequence number.
func (h *Hub) Subscribe() (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan StreamEvent, 256)
	h.subs[ch] = struct{}{}
	seq := h.seq
	h.log.Info("hub subscribe", "subs", len(h.subs), "seq", seq)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns retained events with a sequence number in (after, upTo].
func (h *Hub) Replay(after, upTo uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after && event.Seq <= upTo {
			events = append(events, event)
		}
	}
	h.log.Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(event StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	event.Seq = h.seq
	event.Timestamp = time.Now()
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", event.Type, "tab", event.TabID, "dropped", dropped)
	}
}

package core

import (
	"context"
	"sync"

	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

const outboxDepth = 256

type outboundKind int

const (
	outboundInput outboundKind = iota
	outboundResize
)

type outboundItem struct {
	ctx  context.Context
	kind outboundKind
	data []byte
	cols int
	rows int
}

// outbox serializes transport calls for one tab.
type outbox struct {
	items chan outboundItem
	quit  chan struct{}
}

// dispatcher forwards input and resizes to the transport. Each tab gets its
// own worker so a slow session never delays another tab and keystrokes for
// one tab keep their order.
type dispatcher struct {
	transport Transport
	stateOf   func(schema.TabID) (schema.ConnectionState, bool)
	onFailure func(ctx context.Context, tabID schema.TabID, err error)

	// mu is taken before the engine lock that stateOf acquires.
	mu     sync.Mutex
	boxes  map[schema.TabID]*outbox
	closed bool
}

func newDispatcher(transport Transport, stateOf func(schema.TabID) (schema.ConnectionState, bool), onFailure func(context.Context, schema.TabID, error)) *dispatcher {
	return &dispatcher{
		transport: transport,
		stateOf:   stateOf,
		onFailure: onFailure,
		boxes:     make(map[schema.TabID]*outbox),
	}
}

// Send forwards input for the tab regardless of its connection state. Unknown
// tabs are dropped.
func (e *Engine) Send(ctx context.Context, tabID schema.TabID, data []byte) {
	if len(data) == 0 {
		return
	}
	e.outbound.enqueue(ctx, tabID, outboundItem{kind: outboundInput, data: append([]byte(nil), data...)})
}

// Resize forwards a terminal size change for the tab.
func (e *Engine) Resize(ctx context.Context, tabID schema.TabID, cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	e.outbound.enqueue(ctx, tabID, outboundItem{kind: outboundResize, cols: cols, rows: rows})
}

func (e *Engine) reportSendFailure(ctx context.Context, tabID schema.TabID, err error) {
	e.mu.Lock()
	t, ok := e.tabs.get(tabID)
	if !ok || t.State != schema.StateConnected {
		e.mu.Unlock()
		return
	}
	e.unlockAndEmit(diagnosticEmission(tabID, schema.FormatDiagnostic("Failed to send input: "+err.Error())))
}

func (d *dispatcher) enqueue(ctx context.Context, tabID schema.TabID, item outboundItem) {
	log := logx.WithTab(ctx, tabID)
	if _, ok := d.stateOf(tabID); !ok {
		log.Debug("dispatcher input dropped", "err", schema.ErrUnknownRouting)
		return
	}
	box := d.box(tabID)
	if box == nil {
		log.Debug("dispatcher input dropped", "err", schema.ErrUnknownRouting)
		return
	}
	item.ctx = detachContext(ctx)
	select {
	case box.items <- item:
	case <-box.quit:
	case <-ctx.Done():
		log.Debug("dispatcher input dropped", "err", ctx.Err())
	}
}

// box returns the tab's outbox, starting a worker on first use. It returns nil
// once the dispatcher is closed or the tab is gone; the liveness check runs
// under d.mu so a concurrent release cannot be followed by a new worker.
func (d *dispatcher) box(tabID schema.TabID) *outbox {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	box, ok := d.boxes[tabID]
	if !ok {
		if _, live := d.stateOf(tabID); !live {
			return nil
		}
		box = &outbox{items: make(chan outboundItem, outboxDepth), quit: make(chan struct{})}
		d.boxes[tabID] = box
		go d.drain(tabID, box)
	}
	return box
}

func (d *dispatcher) drain(tabID schema.TabID, box *outbox) {
	for {
		select {
		case <-box.quit:
			return
		case item := <-box.items:
			d.deliver(tabID, item)
		}
	}
}

func (d *dispatcher) deliver(tabID schema.TabID, item outboundItem) {
	log := logx.WithTab(item.ctx, tabID)
	if d.transport == nil {
		log.Debug("dispatcher input dropped", "err", schema.ErrTransportUnavailable)
		return
	}
	var err error
	switch item.kind {
	case outboundInput:
		err = d.transport.SendInput(item.ctx, tabID, item.data)
	case outboundResize:
		err = d.transport.Resize(item.ctx, tabID, item.cols, item.rows)
	}
	if err == nil {
		return
	}
	if state, _ := d.stateOf(tabID); state != schema.StateConnected {
		log.Debug("dispatcher send failed", "state", state, "err", err)
		return
	}
	log.Warn("dispatcher send failed", "err", err)
	if d.onFailure != nil {
		d.onFailure(item.ctx, tabID, err)
	}
}

// release stops the tab's worker. Queued items are discarded.
func (d *dispatcher) release(tabID schema.TabID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if box, ok := d.boxes[tabID]; ok {
		close(box.quit)
		delete(d.boxes, tabID)
	}
}

func (d *dispatcher) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, box := range d.boxes {
		close(box.quit)
		delete(d.boxes, id)
	}
}

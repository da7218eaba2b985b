package core

import "pkt.systems/tabterm/schema"

// binding routes inbound events for a tab.
type binding struct {
	ProfileID schema.ProfileID
	State     schema.ConnectionState
	// Attempt identifies the latest Connect for the tab; open-call results
	// carrying another attempt are stale.
	Attempt uint64
	// Error is the text of the last failure, used to collapse duplicate
	// status events.
	Error string
}

// bindingTable maps tab ids to bindings. Like registry, it is replaced
// wholesale on every change.
type bindingTable struct {
	entries map[schema.TabID]binding
}

func (b bindingTable) lookup(id schema.TabID) (binding, bool) {
	entry, ok := b.entries[id]
	return entry, ok
}

func (b bindingTable) with(id schema.TabID, entry binding) bindingTable {
	next := make(map[schema.TabID]binding, len(b.entries)+1)
	for k, v := range b.entries {
		next[k] = v
	}
	next[id] = entry
	return bindingTable{entries: next}
}

func (b bindingTable) without(id schema.TabID) bindingTable {
	if _, ok := b.entries[id]; !ok {
		return b
	}
	next := make(map[schema.TabID]binding, len(b.entries))
	for k, v := range b.entries {
		if k != id {
			next[k] = v
		}
	}
	return bindingTable{entries: next}
}

func (b bindingTable) len() int { return len(b.entries) }

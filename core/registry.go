package core

import "pkt.systems/tabterm/schema"

// registry is an ordered list of tabs. It is never mutated in place: every
// change returns a new registry so readers can hold a snapshot without
// locking.
type registry struct {
	tabs []tab
}

func (r registry) len() int { return len(r.tabs) }

func (r registry) index(id schema.TabID) int {
	for i, t := range r.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (r registry) get(id schema.TabID) (tab, bool) {
	if i := r.index(id); i >= 0 {
		return r.tabs[i], true
	}
	return tab{}, false
}

func (r registry) active() (tab, bool) {
	for _, t := range r.tabs {
		if t.Active {
			return t, true
		}
	}
	return tab{}, false
}

func (r registry) clone(extra int) []tab {
	out := make([]tab, len(r.tabs), len(r.tabs)+extra)
	copy(out, r.tabs)
	return out
}

// add appends t as the only active tab.
func (r registry) add(t tab) registry {
	next := r.clone(1)
	for i := range next {
		next[i].Active = false
	}
	t.Active = true
	return registry{tabs: append(next, t)}
}

// remove drops the tab. When it was active, the last remaining tab becomes
// active.
func (r registry) remove(id schema.TabID) (registry, tab, bool) {
	i := r.index(id)
	if i < 0 {
		return r, tab{}, false
	}
	removed := r.tabs[i]
	next := make([]tab, 0, len(r.tabs)-1)
	next = append(next, r.tabs[:i]...)
	next = append(next, r.tabs[i+1:]...)
	if removed.Active && len(next) > 0 {
		next[len(next)-1].Active = true
	}
	return registry{tabs: next}, removed, true
}

// activate makes id the only active tab. changed is false when the tab is
// unknown or already active.
func (r registry) activate(id schema.TabID) (registry, bool) {
	i := r.index(id)
	if i < 0 || r.tabs[i].Active {
		return r, false
	}
	next := r.clone(0)
	for j := range next {
		next[j].Active = j == i
	}
	return registry{tabs: next}, true
}

// update applies fn to a copy of the tab. changed is false when the tab is
// unknown or fn left it equal.
func (r registry) update(id schema.TabID, fn func(*tab)) (registry, bool) {
	i := r.index(id)
	if i < 0 {
		return r, false
	}
	updated := r.tabs[i]
	fn(&updated)
	updated.ID = r.tabs[i].ID
	updated.Active = r.tabs[i].Active
	if updated == r.tabs[i] {
		return r, false
	}
	next := r.clone(0)
	next[i] = updated
	return registry{tabs: next}, true
}

func (r registry) snapshots() []schema.TabSnapshot {
	out := make([]schema.TabSnapshot, 0, len(r.tabs))
	for _, t := range r.tabs {
		out = append(out, t.Snapshot())
	}
	return out
}

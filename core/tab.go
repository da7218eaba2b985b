package core

import "pkt.systems/tabterm/schema"

// tab is one record of the registry. Records are values; the registry never
// hands out pointers into its backing slice.
type tab struct {
	ID        schema.TabID
	Title     schema.TabTitle
	ProfileID schema.ProfileID
	Active    bool
	State     schema.ConnectionState
}

// Snapshot returns a transport-friendly view of the tab.
func (t tab) Snapshot() schema.TabSnapshot {
	return schema.TabSnapshot{
		ID:        t.ID,
		Title:     t.Title,
		ProfileID: t.ProfileID,
		Active:    t.Active,
		State:     t.State,
	}
}

package core

import (
	"context"

	"pkt.systems/tabterm/schema"
)

// Transport opens remote sessions and moves bytes. Events flow back through
// the InboundSink it was constructed with, tagged by tab id.
type Transport interface {
	// OpenSession starts a remote session for the tab. A nil error means the
	// attempt was accepted.
	OpenSession(ctx context.Context, tabID schema.TabID, profile schema.SessionProfile) error
	SendInput(ctx context.Context, tabID schema.TabID, data []byte) error
	Resize(ctx context.Context, tabID schema.TabID, cols, rows int) error
	CloseSession(ctx context.Context, tabID schema.TabID) error
}

// ProfileStore persists session profiles.
type ProfileStore interface {
	ListProfiles(ctx context.Context) ([]schema.SessionProfile, error)
	GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error)
	// SaveProfile creates the profile when its id is empty, otherwise updates it.
	SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error)
	DeleteProfile(ctx context.Context, id schema.ProfileID) error
}

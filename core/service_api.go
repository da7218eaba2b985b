package core

import (
	"context"

	"pkt.systems/tabterm/schema"
)

// Service is the transport-agnostic API front-ends drive the engine through.
type Service interface {
	EnsureAtLeastOneTab(ctx context.Context) schema.TabID
	AddTab(ctx context.Context, profile *schema.SessionProfile) schema.TabID
	RemoveTab(ctx context.Context, tabID schema.TabID)
	SetActiveTab(ctx context.Context, tabID schema.TabID)
	UpdateTitle(ctx context.Context, tabID schema.TabID, title schema.TabTitle)
	Tabs() []schema.TabSnapshot
	Tab(tabID schema.TabID) (schema.TabSnapshot, bool)
	ActiveTab() schema.TabID

	Connect(ctx context.Context, tabID schema.TabID, profileID schema.ProfileID) error
	Send(ctx context.Context, tabID schema.TabID, data []byte)
	Resize(ctx context.Context, tabID schema.TabID, cols, rows int)

	ListProfiles(ctx context.Context) ([]schema.SessionProfile, error)
	GetProfile(ctx context.Context, id schema.ProfileID) (schema.SessionProfile, error)
	SaveProfile(ctx context.Context, profile schema.SessionProfile) (schema.SessionProfile, error)
	DeleteProfile(ctx context.Context, id schema.ProfileID) error
}

var _ Service = (*Engine)(nil)

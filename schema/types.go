package schema

// TabID identifies a tab and doubles as the routing identifier for backend events.
type TabID string

// TabTitle is the user-facing label of a tab.
type TabTitle string

// ProfileID identifies a saved session profile.
type ProfileID string

// AuthType selects how a profile authenticates.
type AuthType string

const (
	// AuthPassword authenticates with a password.
	AuthPassword AuthType = "password"
	// AuthPrivateKey authenticates with a private key file.
	AuthPrivateKey AuthType = "key"
)

// DefaultTabTitle is used when a tab has no bound profile.
const DefaultTabTitle TabTitle = "New Terminal"

package schema

// ConnectionState describes where a tab is in its connection lifecycle.
type ConnectionState string

const (
	// StateUnbound indicates no profile is attached.
	StateUnbound ConnectionState = "unbound"
	// StateConnecting indicates an open-session call is in flight.
	StateConnecting ConnectionState = "connecting"
	// StateConnected indicates the remote shell is live.
	StateConnected ConnectionState = "connected"
	// StateDisconnected indicates the remote side closed gracefully.
	StateDisconnected ConnectionState = "disconnected"
	// StateErrored indicates the last attempt or session failed.
	StateErrored ConnectionState = "errored"
)

// CanRetry reports whether Connect may be issued from this state.
func (s ConnectionState) CanRetry() bool {
	switch s {
	case StateUnbound, StateErrored, StateDisconnected:
		return true
	default:
		return false
	}
}

// TabSnapshot is a read-only view of a tab for renderers and transports.
type TabSnapshot struct {
	ID        TabID           `json:"id"`
	Title     TabTitle        `json:"title"`
	ProfileID ProfileID       `json:"profile_id,omitempty"`
	Active    bool            `json:"active"`
	State     ConnectionState `json:"state"`
}

package schema

// DataEvent carries output bytes for a tab.
type DataEvent struct {
	TabID TabID
	Data  []byte
}

// StatusEvent reports a connection state change for a tab.
type StatusEvent struct {
	TabID     TabID
	Connected bool
	Error     string
	// Attempt is set only for results of the open-session call itself.
	// Zero means the event came from the push channel.
	Attempt uint64
	// TimedOut marks the connect watchdog firing for Attempt.
	TimedOut bool
}

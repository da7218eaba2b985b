package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTransportUnavailable indicates the backend call boundary is missing or unreachable.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrConnectRejected indicates the backend refused an open-session call.
	ErrConnectRejected = errors.New("connect rejected")
	// ErrUnknownRouting indicates an event referenced a tab that no longer exists.
	ErrUnknownRouting = errors.New("unknown routing id")
	// ErrProfileValidation indicates a profile failed validation before save.
	ErrProfileValidation = errors.New("invalid profile")
	// ErrProfileNotFound indicates a requested profile could not be found.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrTabBusy indicates a tab already has a connecting or connected session.
	ErrTabBusy = errors.New("tab already connecting or connected")
	// ErrChannelNotFound indicates the transport has no open session for a tab.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrProfileStoreUnavailable indicates no profile store is configured.
	ErrProfileStoreUnavailable = errors.New("profile store not configured")
)

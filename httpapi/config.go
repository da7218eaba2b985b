package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr     string
	BasePath string
	// Token, when set, must accompany every API request as a bearer token
	// (or the token query parameter for EventSource clients).
	Token       string
	HistorySize int
}

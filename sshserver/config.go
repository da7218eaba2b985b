package sshserver

// Config defines SSH attach server settings.
type Config struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	TOTPSecret         string
}

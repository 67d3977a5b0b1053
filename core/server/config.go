package server

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the operator API.
	// Device event notifications are not protected by it.
	ApiKey string `mapstructure:"api_key" default:""`
	// BodyLimitMB caps request bodies; devices upload snapshots inline.
	BodyLimitMB int `mapstructure:"body_limit_mb" default:"8"`
	// ReadTimeoutSeconds bounds how long a client may take to send a request.
	ReadTimeoutSeconds int `mapstructure:"read_timeout_seconds" default:"15"`
}

// BodyLimit returns the body limit in bytes, falling back to 8 MiB.
func (c Config) BodyLimit() int {
	if c.BodyLimitMB <= 0 {
		return 8 * 1024 * 1024
	}
	return c.BodyLimitMB * 1024 * 1024
}

// IsProtected reports whether the operator API requires an API key.
func (c Config) IsProtected() bool {
	return c.ApiKey != ""
}

package device

// Config holds protocol settings shared by every device client.
type Config struct {
	// PageSize is the number of entries requested per search page.
	PageSize int `mapstructure:"page_size" default:"100"`
	// MaxPages stops a search that never returns a short page.
	MaxPages int `mapstructure:"max_pages" default:"500"`
	// RequestTimeoutSeconds bounds one HTTP call end to end.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" default:"10"`
	// ConnectTimeoutSeconds bounds the TCP connect to a device.
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds" default:"3"`
	// ValidityEnd is the expiry date written with every entry (YYYY-MM-DD).
	ValidityEnd string `mapstructure:"validity_end" default:"2099-12-31"`
	// Channel is the traffic channel holding the list.
	Channel int `mapstructure:"channel" default:"1"`
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 500
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 10
	}
	if c.ConnectTimeoutSeconds <= 0 {
		c.ConnectTimeoutSeconds = 3
	}
	if c.ValidityEnd == "" {
		c.ValidityEnd = "2099-12-31"
	}
	if c.Channel <= 0 {
		c.Channel = 1
	}
	return c
}

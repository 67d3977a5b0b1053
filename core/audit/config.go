package audit

// Config holds presence audit and health probe settings.
type Config struct {
	// Concurrency caps how many devices are queried at once.
	Concurrency int `mapstructure:"concurrency" default:"8"`
	// CacheTTLSeconds reuses a fetched device list for this long; 0 always queries live.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" default:"0"`
	// IntervalSeconds is the health probe period; 0 disables the monitor.
	IntervalSeconds int `mapstructure:"interval_seconds" default:"60"`
	// ProbeTimeoutSeconds bounds one health probe.
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds" default:"5"`
}

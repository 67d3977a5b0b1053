package reconcile

// Config holds write pacing and reporting settings for reconciliation.
type Config struct {
	// WriteDelayMs is the pause between successive writes to the same device.
	WriteDelayMs int `mapstructure:"write_delay_ms" default:"250"`
	// MaxFailureSamples caps how many failure messages an outcome keeps.
	MaxFailureSamples int `mapstructure:"max_failure_samples" default:"10"`
	// Concurrency caps how many devices a batch resync works on at once.
	Concurrency int `mapstructure:"concurrency" default:"4"`
	// LockWaitSeconds is how long an operation waits for a device another
	// operation is writing to before giving up.
	LockWaitSeconds int `mapstructure:"lock_wait_seconds" default:"5"`
}

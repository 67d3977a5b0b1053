package snapshot

// Config holds naming and thumbnail settings for event snapshots.
type Config struct {
	// Prefix is the object key prefix every snapshot lives under.
	Prefix string `mapstructure:"prefix" default:"snapshots"`
	// ThumbnailWidth is the width of the generated thumbnail; 0 disables thumbnails.
	ThumbnailWidth int `mapstructure:"thumbnail_width" default:"320"`
	// MaxBytes rejects payloads larger than this many bytes.
	MaxBytes int64 `mapstructure:"max_bytes" default:"5242880"`
}

package config

import (
	"reflect"
	"strings"

	"lpr-manager/core/audit"
	"lpr-manager/core/database"
	"lpr-manager/core/device"
	"lpr-manager/core/lock"
	"lpr-manager/core/logger"
	"lpr-manager/core/reconcile"
	"lpr-manager/core/server"
	"lpr-manager/core/snapshot"
	"lpr-manager/core/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the object storage holding snapshots.
	Storage storage.Config `mapstructure:"storage"`
	// Snapshot holds naming and thumbnail settings for event snapshots.
	Snapshot snapshot.Config `mapstructure:"snapshot"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the canonical store.
	Database database.Config `mapstructure:"database"`
	// Device holds protocol settings shared by every device client.
	Device device.Config `mapstructure:"device"`
	// Reconcile holds write pacing and reporting settings for reconciliation.
	Reconcile reconcile.Config `mapstructure:"reconcile"`
	// Audit holds presence audit and background health probe settings.
	Audit audit.Config `mapstructure:"audit"`
	// Lock selects the per-subject lock backend.
	Lock lock.Config `mapstructure:"lock"`
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	// Map environment variables to nested keys (e.g. DEVICE_PAGE_SIZE -> device.page_size)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}

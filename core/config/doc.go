// Package config provides configuration management for the LPR manager.
//
// It utilizes Viper for loading configuration from environment variables and
// an optional .env file. Defaults come from `default` struct tags on each
// partial configuration.
//
// # Configuration Structure
//
//   - Server: HTTP port, operator API key, body limits
//   - Database: canonical store connection (mysql or sqlite)
//   - Storage / Snapshot: MinIO bucket and snapshot naming
//   - Device: protocol page size, timeouts, validity window
//   - Reconcile: write pacing, failure sampling, fan-out
//   - Health: background prober interval
//   - Lock: per-subject lock backend (local or redis)
//   - Log: logging level and format
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config

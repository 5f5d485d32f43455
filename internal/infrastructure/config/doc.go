// Package config loads and validates the daemon's configuration: device
// identity and secrets, broker settings, journal storage, logging and
// the report/battery/power tuning.
//
// Configuration resolves in three layers: built-in defaults, then the
// YAML file, then CLOUDSYNC_* environment variables. Secrets (product
// and device secret) should come from the environment rather than the
// file; the file itself should be mode 0600 when it carries them.
//
// Loading happens once at startup; the resulting Config is read-only
// afterwards.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cloud.ProductKey)
package config

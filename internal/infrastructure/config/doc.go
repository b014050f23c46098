// Package config handles loading and validating LumiBot Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Broker values loaded here are defaults only. The live broker
// parameters (host, port, WebSocket path, TLS) come from the persistent
// settings store and are re-read on every connect attempt, so runtime
// overrides take effect without a restart. See internal/settings.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.Host)
package config

// Package config handles loading and validating RWS client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Controller and broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The control API refuses to start without a JWT secret of at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Controller.URL)
package config

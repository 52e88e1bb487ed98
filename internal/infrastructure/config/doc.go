// Package config handles loading and validating RFID bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with RFIDBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Fleet.TeamID)
package config

// Package config loads and validates the service configuration: YAML
// file first, AGENTLINK_* environment variables layered on top, then
// validation of ports, timeouts, and the trust mode.
//
// Secrets (JWT signing key, broker passwords, InfluxDB token) belong in
// environment variables, not in the YAML file. Configuration is read
// once at startup.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config

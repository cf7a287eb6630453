// Package config handles configuration loading for fleet-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${FLEET_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  poll_interval: "30s"
//	  liveness_timeout: "90s"
//	  command_timeout: "5m"
//	  sweep_interval: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # agent and operator API
//
// Database:
//
//	database:
//	  path: "/var/lib/fleet/gateway.db"
//
// Fleet timing:
//
//	agents:
//	  poll_interval: "30s"        # expected agent poll cadence
//	  liveness_timeout: "90s"     # defaults to 3x poll_interval
//	  command_timeout: "5m"       # dispatched-to-timed-out deadline
//	  sweep_interval: "10s"       # background timeout sweep cadence
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/fleet/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// Package config handles configuration loading for hostel-messaging.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// .env loading and environment variable expansion. Values missing from the
// file keep the defaults from Default().
//
// # Configuration File
//
// Default location:
//
//  1. Path from HOSTEL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hostel-messaging/config.yaml
//  3. ~/.config/hostel-messaging/config.yaml
//
// # Environment
//
// A .env file beside the config file, and one in the working directory, are
// loaded first. Variables already present in the environment win.
//
//	auth:
//	  jwt_secret: "${HOSTEL_JWT_SECRET}"
//
// HOSTEL_DB_PATH overrides database.path.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8080"
//	  request_timeout: "15s"
//	  allowed_origins: ["*"]
//
//	database:
//	  path: "hostel-messaging.db"
//
//	auth:
//	  jwt_secret: ""            # empty disables bearer checks
//
//	socket:
//	  ping_interval: "25s"
//	  idle_timeout: "60s"
//	  send_buffer: 64
//
//	presence:
//	  typing_timeout: "6s"
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	reconcile:
//	  enabled: true
//	  schedule: "*/15 * * * *"  # standard 5-field cron
//
//	tailscale:
//	  enabled: false
//	  hostname: "hostel-messaging"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/hostel/messaging.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

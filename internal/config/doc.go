// Package config handles configuration loading for hypertube-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HYPERTUBE_CONFIG environment variable
//  2. ~/.config/hypertube/gateway.yaml (XDG config dir)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HYPERTUBE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_ttl: "24h"
//	  refresh_ttl: "720h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_url: "https://gateway.example.com"  # OAuth2 callback base
//
// Database:
//
//	database:
//	  path: "/var/lib/hypertube/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HYPERTUBE_JWT_SECRET}"  # Required
//	  access_ttl: "24h"
//	  refresh_ttl: "720h"                    # 30 days
//	  require_verified_email: false
//
// Upstreams and routes:
//
//	upstreams:
//	  - name: "video"
//	    url: "http://localhost:3002"
//	    timeout: "10s"
//
//	routes:
//	  - path: "/movies"
//	    method: "GET"
//	    upstream: "video"
//	    class: "public"
//	  - path: "/movies"
//	    prefix: true
//	    upstream: "video"
//	    class: "protected"
//
// Routes are matched in declaration order; the first match wins.
//
// Resilience:
//
//	resilience:
//	  rate_limit:
//	    enabled: true   # on by default; set false to disable
//	    default_replenish_rate: 100
//	    default_burst_capacity: 200
//	    auth_replenish_rate: 10
//	    auth_burst_capacity: 20
//	  circuit_breaker:
//	    window_size: 20
//	    minimum_calls: 10
//	    failure_rate_threshold: 0.5
//	    wait_duration: "30s"
//	    half_open_calls: 3
//	  retry:
//	    max_attempts: 3
//	    initial_interval: "100ms"
//	    max_interval: "2s"
//	    multiplier: 2.0
//
// External login providers:
//
//	frontend:
//	  url: "https://hypertube.example.com"
//
//	oauth2:
//	  providers:
//	    - name: "google"
//	      client_id: "${GOOGLE_CLIENT_ID}"
//	      client_secret: "${GOOGLE_CLIENT_SECRET}"
//	      auth_url: "https://accounts.google.com/o/oauth2/v2/auth"
//	      token_url: "https://oauth2.googleapis.com/token"
//	      user_info_url: "https://openidconnect.googleapis.com/v1/userinfo"
//	      scopes: ["openid", "email", "profile"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/hypertube/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

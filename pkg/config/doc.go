// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads an optional .env file, then GATEKEEPER_* environment variables,
// applying defaults and validating the result.
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_HEALTH_PORT="9090"
//
// Database settings:
//
//	GATEKEEPER_DB_DRIVER="postgres"  # postgres, sqlite3, memory
//	GATEKEEPER_DB_DSN="postgres://localhost/gatekeeper?sslmode=disable"
//
// Gate settings:
//
//	GATEKEEPER_PROXY_TIMEOUT="10s"
//	GATEKEEPER_INTEGRITY_SCHEDULE="@every 15m"
//	GATEKEEPER_SEED_FILE="plans.yaml"
//
// Proxied services are wired only when configured, e.g. GATEKEEPER_STRIPE_SECRET_KEY,
// GATEKEEPER_AUTH0_DOMAIN, GATEKEEPER_S3_BUCKET, GATEKEEPER_ES_ADDRESSES,
// GATEKEEPER_KAFKA_BROKERS and GATEKEEPER_REDIS_ADDR.
package config

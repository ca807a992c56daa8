// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package config loads and validates the Quillsync configuration.

# Configuration Sources

Configuration is layered with koanf. Later layers override earlier ones:

 1. Built-in defaults (see defaultConfig)
 2. An optional YAML file: CONFIG_PATH, or the first existing file among
    ./config.yaml, ./config.yml and /etc/quillsync/config.yaml
 3. Environment variables, mapped explicitly (HTTP_PORT -> server.port)

Unmapped environment variables are ignored.

# Configuration Structure

  - Server: HTTP listener and timeouts
  - Relay: room namespace, websocket upgrade rate limit, per-connection tuning
  - Auth: JWT secret, token lifetime, casbin policy, CORS origins
  - Bridge: notification bridge relay URL and circuit breaker
  - Outbox: badger-backed notification outbox and retry schedule
  - NATS: embedded server and client connection for the legacy channel
  - Legacy: legacy event channel topics and rejoin backoff
  - Store: note persistence driver (memory, badger or mysql)
  - Redis: optional cross-instance relay fan-out
  - Client: sync client defaults used by cmd/syncagent
  - Logging: zerolog level and format

# Example

	export JWT_SECRET=$(openssl rand -base64 48)
	export STORE_DRIVER=mysql
	export MYSQL_DSN='quill:secret@tcp(db:3306)/quill?parseTime=true'
	export REDIS_ENABLED=true REDIS_ADDR=redis:6379

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
*/
package config

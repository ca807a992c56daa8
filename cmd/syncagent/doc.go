// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Command syncagent is a headless Quillsync client.

It opens one synchronization session per resource ID, keeps the local
replica in step with the relay, autosaves to the configured note store
and logs the title and content changes made by other users. With
NATS_ENABLED it also joins the legacy event channel.

Configuration comes from an optional dotenv file (-env-file, default
.env), the config file and the environment. The agent reads:

	AGENT_TOKEN       bearer token presented to the relay (required)
	AGENT_RESOURCES   comma-separated resource IDs to open
	CLIENT_RELAY_URL  relay base URL, e.g. ws://localhost:3857
	STORE_DRIVER      memory, badger or mysql
	NATS_URL          legacy channel server

Resource IDs given as arguments are opened as well:

	AGENT_TOKEN=... ./syncagent note-1 note-2
*/
package main

// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package cache provides a generic, thread-safe LRU cache with TTL.
//
// It backs the client's echo-suppression cache, where entries keyed by
// remote author must stay bounded no matter how many collaborators pass
// through a document:
//
//	last := cache.NewLRU[string](256, 10*time.Minute)
//	last.Add("content/"+authorID, content)
//	if v, ok := last.Get("content/" + authorID); ok {
//		...
//	}
package cache

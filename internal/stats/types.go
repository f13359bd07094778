// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package stats implements the single-writer statistics actor: every
// connection handler reports lifecycle and request events over a bounded
// channel, and the actor is the sole owner of the per-peer stats map.
package stats

import "time"

// ClientStats accumulates the activity observed from one peer address.
type ClientStats struct {
	ActiveConnections int
	TotalRequests     uint64
	TotalErrors       uint64
	LastActive        time.Time
	LastError         *time.Time
	AvgResponseTimeMS uint64
}

// Snapshot is the aggregate view served to /stats and the periodic log line.
type Snapshot struct {
	TotalConnections  uint64
	ActiveConnections int
	TotalRequests     uint64
	TotalErrors       uint64
	RequestsPerSecond float64
	AvgResponseTimeMS float64
	PerPeer           map[string]ClientStats
}

// Config tunes the actor's buffering and idle-cleanup policy.
type Config struct {
	EventBufferSize int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	ErrorTimeout    time.Duration
}

// DefaultConfig matches the original's StatsConfig defaults.
func DefaultConfig() Config {
	return Config{
		EventBufferSize: 1024,
		CleanupInterval: 60 * time.Second,
		IdleTimeout:     5 * time.Minute,
		ErrorTimeout:    10 * time.Minute,
	}
}

type eventKind int

const (
	eventClientConnected eventKind = iota
	eventClientDisconnected
	eventRequestProcessed
	eventQueryClientStats
	eventQueryConnectionStats
)

type event struct {
	kind       eventKind
	addr       string
	success    bool
	durationMS uint64

	replyClient chan ClientStats
	replyConn   chan Snapshot
}

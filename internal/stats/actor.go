// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package stats

import (
	"context"
	"log/slog"
	"time"
)

// movingAverageAlpha is the EMA smoothing factor applied to response times.
const movingAverageAlpha = 0.1

// requestsPerSecondWindow is the trailing window requests_per_second is
// estimated over, per spec.md §4.5.
const requestsPerSecondWindow = 60 * time.Second

// Actor is the sole owner of the per-peer stats map. All mutation happens on
// its Run goroutine; every other goroutine talks to it over events.
type Actor struct {
	cfg Config

	events chan event

	stats            map[string]*ClientStats
	totalConnections uint64
}

// NewActor allocates an actor. Call Run in its own goroutine to start it.
func NewActor(cfg Config) *Actor {
	return &Actor{
		cfg:    cfg,
		events: make(chan event, cfg.EventBufferSize),
		stats:  make(map[string]*ClientStats),
	}
}

// Run processes events until ctx is cancelled, draining any events already
// queued before it returns — mirroring the original's shutdown discipline of
// never dropping an already-sent event.
func (a *Actor) Run(ctx context.Context) {
	cleanup := time.NewTicker(a.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drain()
			slog.Info("stats actor shutdown complete")
			return
		case ev := <-a.events:
			a.handle(ev)
		case <-cleanup.C:
			a.cleanupIdle()
		}
	}
}

func (a *Actor) drain() {
	for {
		select {
		case ev := <-a.events:
			a.handle(ev)
		default:
			return
		}
	}
}

func (a *Actor) handle(ev event) {
	switch ev.kind {
	case eventClientConnected:
		cs := a.entry(ev.addr)
		cs.ActiveConnections++
		cs.LastActive = time.Now()
		a.totalConnections++

	case eventClientDisconnected:
		if cs, ok := a.stats[ev.addr]; ok {
			if cs.ActiveConnections > 0 {
				cs.ActiveConnections--
			}
			cs.LastActive = time.Now()
		}

	case eventRequestProcessed:
		cs := a.entry(ev.addr)
		cs.TotalRequests++
		if !ev.success {
			cs.TotalErrors++
			now := time.Now()
			cs.LastError = &now
		}
		if cs.AvgResponseTimeMS == 0 {
			cs.AvgResponseTimeMS = ev.durationMS
		} else {
			current := float64(cs.AvgResponseTimeMS)
			cs.AvgResponseTimeMS = uint64(current + movingAverageAlpha*(float64(ev.durationMS)-current))
		}
		cs.LastActive = time.Now()

	case eventQueryClientStats:
		if cs, ok := a.stats[ev.addr]; ok {
			ev.replyClient <- *cs
		}
		close(ev.replyClient)

	case eventQueryConnectionStats:
		ev.replyConn <- a.snapshot()
		close(ev.replyConn)
	}
}

func (a *Actor) entry(addr string) *ClientStats {
	cs, ok := a.stats[addr]
	if !ok {
		cs = &ClientStats{LastActive: time.Now()}
		a.stats[addr] = cs
	}
	return cs
}

// cleanupIdle evicts peers that are both stale (idle past IdleTimeout) and
// free of a recent error: a peer with a fresh error survives past its idle
// window so the error remains visible to a /stats poller.
func (a *Actor) cleanupIdle() {
	now := time.Now()
	for addr, cs := range a.stats {
		stale := now.Sub(cs.LastActive) > a.cfg.IdleTimeout
		hasRecentError := cs.LastError != nil && now.Sub(*cs.LastError) <= a.cfg.ErrorTimeout
		if stale && !hasRecentError {
			delete(a.stats, addr)
			slog.Debug("cleaned up idle stats", "addr", addr, "requests", cs.TotalRequests, "errors", cs.TotalErrors)
		}
	}
}

func (a *Actor) snapshot() Snapshot {
	snap := Snapshot{
		TotalConnections: a.totalConnections,
		PerPeer:          make(map[string]ClientStats, len(a.stats)),
	}

	now := time.Now()
	var recentRequests uint64
	var avgSum float64
	var avgCount int

	for addr, cs := range a.stats {
		snap.ActiveConnections += cs.ActiveConnections
		snap.TotalRequests += cs.TotalRequests
		snap.TotalErrors += cs.TotalErrors
		snap.PerPeer[addr] = *cs

		if now.Sub(cs.LastActive) <= requestsPerSecondWindow {
			recentRequests += cs.TotalRequests
		}
		if cs.AvgResponseTimeMS != 0 {
			avgSum += float64(cs.AvgResponseTimeMS)
			avgCount++
		}
	}

	snap.RequestsPerSecond = float64(recentRequests) / requestsPerSecondWindow.Seconds()
	if avgCount > 0 {
		snap.AvgResponseTimeMS = avgSum / float64(avgCount)
	}

	return snap
}

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package stats

import (
	"context"
	"time"
)

// Connected records a new connection from addr.
func (a *Actor) Connected(addr string) {
	a.send(event{kind: eventClientConnected, addr: addr})
}

// Disconnected records a connection closing from addr.
func (a *Actor) Disconnected(addr string) {
	a.send(event{kind: eventClientDisconnected, addr: addr})
}

// RequestProcessed records one completed request, its outcome, and latency.
func (a *Actor) RequestProcessed(addr string, success bool, duration time.Duration) {
	a.send(event{
		kind:       eventRequestProcessed,
		addr:       addr,
		success:    success,
		durationMS: uint64(duration.Milliseconds()),
	})
}

// ClientStatsFor queries one peer's stats; ok is false if unknown.
func (a *Actor) ClientStatsFor(ctx context.Context, addr string) (ClientStats, bool) {
	reply := make(chan ClientStats, 1)
	a.send(event{kind: eventQueryClientStats, addr: addr, replyClient: reply})

	select {
	case <-ctx.Done():
		return ClientStats{}, false
	case cs, ok := <-reply:
		return cs, ok
	}
}

// Snapshot returns the current aggregate view.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	a.send(event{kind: eventQueryConnectionStats, replyConn: reply})

	select {
	case <-ctx.Done():
		return Snapshot{}, false
	case snap, ok := <-reply:
		return snap, ok
	}
}

// send enqueues an event, never blocking forever on a full buffer: a stuck
// stats actor must not stall a connection handler.
func (a *Actor) send(ev event) {
	select {
	case a.events <- ev:
	case <-time.After(time.Second):
	}
}

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package conn implements connection admission control: global and per-IP
// semaphores, an RAII-style guard releasing permits on connection close, and
// idle-connection reconciliation against the stats actor's snapshot.
package conn

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ffutop/modbus-relay/internal/stats"
)

// Config bounds the number of simultaneous connections.
type Config struct {
	MaxConnections int
	PerIPLimit     int // 0 disables the per-IP limit
}

// Manager admits or rejects new TCP connections per Config, and tracks the
// active-connection count per peer address for idle reconciliation.
type Manager struct {
	cfg   Config
	stats *stats.Actor

	global *semaphore.Weighted

	mu           sync.Mutex
	perIP        map[string]*semaphore.Weighted
	activeByPeer map[string]int
}

// NewManager builds a Manager that reports lifecycle events to statsActor.
func NewManager(cfg Config, statsActor *stats.Actor) *Manager {
	return &Manager{
		cfg:          cfg,
		stats:        statsActor,
		global:       semaphore.NewWeighted(int64(cfg.MaxConnections)),
		perIP:        make(map[string]*semaphore.Weighted),
		activeByPeer: make(map[string]int),
	}
}

// Accept admits a new connection from addr, acquiring the per-IP permit
// before the global one, so a peer already at its per-IP limit is refused
// without ever taking a global permit.
func (m *Manager) Accept(addr string) (*Guard, error) {
	var ipSem *semaphore.Weighted
	if m.cfg.PerIPLimit > 0 {
		ipSem = m.ipSemaphore(addr)
		if !ipSem.TryAcquire(1) {
			return nil, &LimitExceededError{Scope: "per-ip", Limit: m.cfg.PerIPLimit, Peer: addr}
		}
	}

	if !m.global.TryAcquire(1) {
		if ipSem != nil {
			ipSem.Release(1)
		}
		return nil, &LimitExceededError{Scope: "global", Limit: m.cfg.MaxConnections, Peer: addr}
	}

	m.mu.Lock()
	m.activeByPeer[addr]++
	m.mu.Unlock()

	m.stats.Connected(addr)

	return &Guard{manager: m, addr: addr, ipSem: ipSem}, nil
}

func (m *Manager) ipSemaphore(addr string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()

	sem, ok := m.perIP[addr]
	if !ok {
		sem = semaphore.NewWeighted(int64(m.cfg.PerIPLimit))
		m.perIP[addr] = sem
	}
	return sem
}

// ConnectionCount returns the number of currently tracked connections for addr.
func (m *Manager) ConnectionCount(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeByPeer[addr]
}

// decrementActive is the synchronous, try-lock counterpart to the original's
// decrease_connection_count: a lock contention here signals a broken
// invariant (a guard releasing twice, or releasing after manager shutdown),
// so it panics rather than silently corrupting the count.
func (m *Manager) decrementActive(addr string) {
	if !m.mu.TryLock() {
		panic("conn: active connection map locked during guard release")
	}
	defer m.mu.Unlock()

	if count, ok := m.activeByPeer[addr]; ok {
		count--
		if count <= 0 {
			delete(m.activeByPeer, addr)
		} else {
			m.activeByPeer[addr] = count
		}
	}
}

// CleanupIdle reconciles the active-connection map against a stats
// snapshot: a peer with zero active connections there (or untracked) is
// dropped from the local map.
func (m *Manager) CleanupIdle(ctx context.Context) {
	snap, ok := m.stats.Snapshot(ctx)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for addr := range m.activeByPeer {
		if peer, tracked := snap.PerPeer[addr]; !tracked || peer.ActiveConnections == 0 {
			delete(m.activeByPeer, addr)
		}
	}
}

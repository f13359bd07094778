// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package conn

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard is the RAII-style handle returned by Manager.Accept: releasing it
// frees both semaphore permits and emits a disconnect event, translating the
// original's Drop impl into an explicit, deferrable Release call.
type Guard struct {
	manager *Manager
	addr    string
	ipSem   *semaphore.Weighted

	once sync.Once
}

// Release frees the connection's permits and reports its disconnect. Safe to
// call more than once; only the first call has effect.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.manager.stats.Disconnected(g.addr)
		g.manager.decrementActive(g.addr)
		g.manager.global.Release(1)
		if g.ipSem != nil {
			g.ipSem.Release(1)
		}
	})
}

// Addr returns the peer address this guard was issued for.
func (g *Guard) Addr() string { return g.addr }

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package conn

import "fmt"

// LimitExceededError reports that admission was refused because a semaphore
// (global or per-IP) had no permits left.
type LimitExceededError struct {
	Scope string // "global" or "per-ip"
	Limit int
	Peer  string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("conn: %s connection limit (%d) reached for %s", e.Scope, e.Limit, e.Peer)
}

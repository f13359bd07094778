// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import "fmt"

// RTSType is the three-state RS-485 direction-control mode: disabled, RTS
// high while transmitting, or RTS low while transmitting.
type RTSType string

const (
	RTSNone RTSType = "none"
	RTSUp   RTSType = "up"
	RTSDown RTSType = "down"
)

// SignalLevel maps the RTS type to the line level for the given direction,
// per spec.md §4.2: up -> tx=high, rx=low; down -> tx=low, rx=high; none ->
// no line control.
func (t RTSType) SignalLevel(transmitting bool) bool {
	switch t {
	case RTSUp:
		return transmitting
	case RTSDown:
		return !transmitting
	default:
		return false
	}
}

func (t RTSType) valid() bool {
	switch t {
	case RTSNone, RTSUp, RTSDown, "":
		return true
	default:
		return false
	}
}

func (t RTSType) String() string {
	if t == "" {
		return string(RTSDown)
	}
	return string(t)
}

var errInvalidRTSType = fmt.Errorf("rts_type must be one of %q, %q, %q", RTSNone, RTSUp, RTSDown)

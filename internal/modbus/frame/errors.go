// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import (
	"errors"
	"fmt"
)

// Sentinel frame-shape errors, matching spec.md §7's Frame taxonomy
// (Size{TooShort|TooLong}, Format{InvalidHeader|InvalidFormat},
// Protocol{InvalidProtocolId|InvalidUnitId}).
var (
	ErrInvalidHeader     = errors.New("modbus: invalid mbap header")
	ErrInvalidProtocolID = errors.New("modbus: invalid protocol id")
	ErrFrameTooLong      = errors.New("modbus: frame too long")
	ErrFrameTooShort     = errors.New("modbus: frame too short")
	ErrInvalidFormat     = errors.New("modbus: invalid frame format")
	ErrInvalidUnitID     = errors.New("modbus: unexpected unit id in response")
)

// CRCError reports a CRC mismatch on a received RTU frame, carrying enough
// detail to diagnose it (spec.md §7's Frame::Crc{calculated, received, hex}).
type CRCError struct {
	Calculated uint16
	Received   uint16
	FrameHex   string
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("modbus: crc mismatch: calculated=0x%04X received=0x%04X frame=%s", e.Calculated, e.Received, e.FrameHex)
}

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package frame

import "encoding/binary"

// Modbus function codes relevant to response sizing.
const (
	FuncCodeReadCoils            = 0x01
	FuncCodeReadDiscreteInputs   = 0x02
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04
	FuncCodeWriteSingleCoil      = 0x05
	FuncCodeWriteSingleRegister  = 0x06
	FuncCodeWriteMultipleCoils   = 0x0F
	FuncCodeWriteMultipleRegs    = 0x10
)

// ResponseSize returns the expected RTU response length in bytes for a given
// function code and quantity, per spec.md §4.1's sizing table. Unknown
// function codes get the safe upper bound of 256 bytes.
func ResponseSize(functionCode byte, quantity uint16) int {
	switch functionCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		dataBytes := (int(quantity) + 7) / 8
		return 1 + 1 + 1 + dataBytes + 2
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return 1 + 1 + 1 + int(quantity)*2 + 2
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegs:
		return 8
	default:
		return 256
	}
}

// Quantity extracts the coil/register quantity from a Modbus RTU request
// (unit_id‖pdu), reading the big-endian 16-bit value at request bytes [4:6]
// for functions that carry one; other functions implicitly request 1 item.
func Quantity(functionCode byte, request []byte) uint16 {
	switch functionCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegs:
		if len(request) < 6 {
			return 1
		}
		return binary.BigEndian.Uint16(request[4:6])
	default:
		return 1
	}
}

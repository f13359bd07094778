// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package frame implements the Modbus TCP (MBAP) and RTU wire formats: header
// encode/decode/validation, RTU frame assembly, and the function-code-aware
// response-size estimator used to bound the serial read loop.
package frame

import (
	"fmt"

	"github.com/ffutop/modbus-relay/internal/modbus/crc"
)

const (
	// MBAPHeaderSize is the transaction_id+protocol_id+length prefix size.
	MBAPHeaderSize = 6
	// MaxMBAPLength is the largest value the MBAP length field may carry,
	// keeping the total frame at or under 255 bytes on the wire.
	MaxMBAPLength = 249
	// MinMBAPFrameSize is the smallest byte count that can carry a valid
	// MBAP header plus a unit id.
	MinMBAPFrameSize = 7
)

// MBAPFrame is a decoded Modbus TCP Application Data Unit.
type MBAPFrame struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	PDU           []byte
}

// DecodeMBAP parses and validates a Modbus TCP frame per spec.
//
// Rejects frames where: readLen < 7, protocol_id != 0, length > 249, or
// length+6 != readLen.
func DecodeMBAP(raw []byte) (*MBAPFrame, error) {
	readLen := len(raw)
	if readLen < MinMBAPFrameSize {
		return nil, fmt.Errorf("%w: read %d bytes, need at least %d", ErrInvalidHeader, readLen, MinMBAPFrameSize)
	}

	protocolID := uint16(raw[2])<<8 | uint16(raw[3])
	if protocolID != 0 {
		return nil, fmt.Errorf("%w: protocol id %d", ErrInvalidProtocolID, protocolID)
	}

	length := uint16(raw[4])<<8 | uint16(raw[5])
	if length > MaxMBAPLength {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrFrameTooLong, length, MaxMBAPLength)
	}
	if int(length)+MBAPHeaderSize != readLen {
		return nil, fmt.Errorf("%w: length field %d implies %d bytes, got %d", ErrInvalidFormat, length, int(length)+MBAPHeaderSize, readLen)
	}

	return &MBAPFrame{
		TransactionID: uint16(raw[0])<<8 | uint16(raw[1]),
		ProtocolID:    protocolID,
		UnitID:        raw[6],
		PDU:           append([]byte(nil), raw[7:]...),
	}, nil
}

// Encode serializes the frame back to MBAP wire format.
func (f *MBAPFrame) Encode() []byte {
	length := 1 + len(f.PDU)
	raw := make([]byte, MBAPHeaderSize+1+len(f.PDU))
	raw[0] = byte(f.TransactionID >> 8)
	raw[1] = byte(f.TransactionID)
	raw[2] = byte(f.ProtocolID >> 8)
	raw[3] = byte(f.ProtocolID)
	raw[4] = byte(length >> 8)
	raw[5] = byte(length)
	raw[6] = f.UnitID
	copy(raw[7:], f.PDU)
	return raw
}

// EncodeExceptionResponse builds the Modbus exception TCP reply emitted when
// the RTU transport fails to produce a response: exception function code
// (original | 0x80) with the given exception code.
func EncodeExceptionResponse(transactionID uint16, unitID, functionCode, exceptionCode byte) []byte {
	f := &MBAPFrame{
		TransactionID: transactionID,
		ProtocolID:    0,
		UnitID:        unitID,
		PDU:           []byte{functionCode | 0x80, exceptionCode},
	}
	return f.Encode()
}

// BuildRTUResponseToMBAP reassembles a TCP response frame from a verified,
// CRC-stripped RTU payload (unit_id + pdu).
func BuildRTUResponseToMBAP(transactionID uint16, unitIDPlusPDU []byte) []byte {
	raw := make([]byte, MBAPHeaderSize+len(unitIDPlusPDU))
	length := len(unitIDPlusPDU)
	raw[0] = byte(transactionID >> 8)
	raw[1] = byte(transactionID)
	raw[2] = 0
	raw[3] = 0
	raw[4] = byte(length >> 8)
	raw[5] = byte(length)
	copy(raw[6:], unitIDPlusPDU)
	return raw
}

// BuildRTURequest assembles unit_id‖pdu‖crc16_le, the wire format of an RTU
// request frame.
func BuildRTURequest(unitID byte, pdu []byte) []byte {
	body := make([]byte, 0, 1+len(pdu)+2)
	body = append(body, unitID)
	body = append(body, pdu...)
	sum := crc.Checksum(body)
	body = append(body, byte(sum), byte(sum>>8))
	return body
}

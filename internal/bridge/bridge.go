// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bridge translates a single Modbus TCP request into an RTU
// transaction and the RTU reply back into a TCP response, synthesizing a
// Modbus exception when the downstream device stays silent.
package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-relay/internal/modbus/crc"
	"github.com/ffutop/modbus-relay/internal/modbus/frame"
)

// exceptionGatewayTargetFailedToRespond is the Modbus exception code (0x0B)
// synthesized when the RTU transport fails to produce a response.
const exceptionGatewayTargetFailedToRespond = 0x0B

// Transport is the RTU transaction contract the bridge depends on; it is
// satisfied by *rtu.Transport and by test doubles.
type Transport interface {
	Transaction(ctx context.Context, request []byte) ([]byte, error)
}

// TransportError is implemented by the RTU transport's failure types that
// should be converted into a Modbus exception reply rather than propagated.
type TransportError interface {
	error
	transportFailure()
}

// Bridge processes Modbus TCP requests against one RTU downstream.
type Bridge struct {
	transport Transport
}

// New returns a Bridge driving requests through transport.
func New(transport Transport) *Bridge {
	return &Bridge{transport: transport}
}

// Process implements spec.md §4.3's algorithm: build the RTU request, run
// the transaction (the transport sizes the expected response), and
// reassemble a TCP response — or a Modbus exception reply when the transport
// itself failed.
func (b *Bridge) Process(ctx context.Context, transactionID uint16, unitID byte, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, frame.ErrInvalidFormat
	}

	request := frame.BuildRTURequest(unitID, pdu)

	resp, err := b.transport.Transaction(ctx, request)
	if err != nil {
		var te TransportError
		if errors.As(err, &te) {
			return frame.EncodeExceptionResponse(transactionID, unitID, pdu[0], exceptionGatewayTargetFailedToRespond), nil
		}
		return nil, err
	}

	if len(resp) < 5 {
		return nil, fmt.Errorf("%w: got %d bytes", frame.ErrFrameTooShort, len(resp))
	}

	payload := resp[:len(resp)-2]
	received := uint16(resp[len(resp)-2]) | uint16(resp[len(resp)-1])<<8
	calculated := crc.Checksum(payload)
	if calculated != received {
		return nil, &frame.CRCError{
			Calculated: calculated,
			Received:   received,
			FrameHex:   hex.EncodeToString(resp),
		}
	}

	if payload[0] != unitID {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", frame.ErrInvalidUnitID, payload[0], unitID)
	}

	return frame.BuildRTUResponseToMBAP(transactionID, payload), nil
}

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-relay/internal/modbus/frame"
)

// maxTimeouts bounds the number of consecutive failed (timed-out) reads
// before the read loop gives up on a silent slave.
const maxTimeouts = 3

// Transaction writes request (a complete RTU ADU: unit_id‖pdu‖crc) and reads
// back the slave's response, sized by the function-code-aware estimator and
// bounded by an inter-byte-silence detector. It holds the port mutex for its
// entire duration, serializing all traffic onto the bus.
//
// Transport failures are reported as *TimeoutError or *NoResponseError so the
// bridge can translate them into a Modbus exception reply instead of closing
// the TCP connection; frame-shape problems are the caller's concern.
func (t *Transport) Transaction(ctx context.Context, request []byte) ([]byte, error) {
	if t.opts.TraceFrames {
		slog.Debug("rtu tx", "bytes", len(request), "hex", hex.EncodeToString(request))
	}

	functionCode := request[1]
	quantity := frame.Quantity(functionCode, request)
	expected := frame.ResponseSize(functionCode, quantity)

	start := time.Now()
	deadline := start.Add(t.opts.TransactionTimeout)

	resultCh := make(chan transactionResult, 1)
	go func() {
		buf, err := t.runTransaction(request, expected, deadline)
		resultCh <- transactionResult{buf: buf, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		if t.opts.TraceFrames {
			slog.Debug("rtu rx", "bytes", len(res.buf), "hex", hex.EncodeToString(res.buf))
		}
		return res.buf, nil
	}
}

type transactionResult struct {
	buf []byte
	err error
}

func (t *Transport) runTransaction(request []byte, expected int, deadline time.Time) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, &IOError{Op: "write", Details: "port closed", Err: errors.New("serial port not open")}
	}

	if _, err := t.port.Write(request); err != nil {
		return nil, &IOError{Op: "write", Details: "serial write", Err: err}
	}

	if err := t.flush(); err != nil {
		return nil, err
	}

	response := make([]byte, expected)
	total, err := t.readResponse(response, deadline)
	if err != nil {
		return nil, err
	}
	return response[:total], nil
}

// readResponse implements the inter-byte-silence read loop: it keeps reading
// until `expected` bytes have arrived, a 100ms silence follows a partial
// frame, or maxTimeouts consecutive reads fail with an error (a
// *NoResponseError when zero bytes have arrived, otherwise the partial
// frame). Reads returning 0 bytes with no error are not counted as
// timeouts; with zero bytes so far they repeat until the transaction
// deadline.
func (t *Transport) readResponse(buf []byte, deadline time.Time) (int, error) {
	interByteTimeout := t.opts.InterByteTimeout
	if interByteTimeout <= 0 {
		interByteTimeout = 100 * time.Millisecond
	}

	start := time.Now()
	total := 0
	consecutiveTimeouts := 0
	lastRead := time.Now()

	for total < len(buf) {
		if time.Now().After(deadline) {
			return total, &TimeoutError{Elapsed: time.Since(start), Limit: t.opts.TransactionTimeout}
		}

		n, err := t.port.Read(buf[total:])
		switch {
		case err == nil && n == 0:
			if total > 0 && time.Since(lastRead) >= interByteTimeout {
				return total, nil
			}
		case err == nil:
			total += n
			lastRead = time.Now()
			consecutiveTimeouts = 0
		case errors.Is(err, io.EOF):
			return total, &IOError{Op: "read", Details: "serial port closed mid-read", Err: err}
		default:
			if total > 0 && time.Since(lastRead) >= interByteTimeout {
				return total, nil
			}
			consecutiveTimeouts++
			if consecutiveTimeouts >= maxTimeouts {
				if total == 0 {
					return 0, &NoResponseError{Attempts: consecutiveTimeouts, Elapsed: time.Since(start)}
				}
				return total, nil
			}
		}
	}

	return total, nil
}

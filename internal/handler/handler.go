// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package handler runs the per-connection request loop: read an MBAP frame,
// run it through the bridge, write the TCP response, and record the outcome
// with the stats actor.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ffutop/modbus-relay/internal/bridge"
	"github.com/ffutop/modbus-relay/internal/modbus/frame"
	"github.com/ffutop/modbus-relay/internal/stats"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
	tcpBufferSize = 256
)

// Handler drives one client connection end to end.
type Handler struct {
	bridge *bridge.Bridge
	stats  *stats.Actor
}

// New returns a Handler processing requests through b and reporting to s.
func New(b *bridge.Bridge, s *stats.Actor) *Handler {
	return &Handler{bridge: b, stats: s}
}

// Serve reads requests from conn until it disconnects, an I/O deadline
// trips, or shutdown is closed. It always closes conn before returning.
func (h *Handler) Serve(ctx context.Context, conn net.Conn, shutdown <-chan struct{}) error {
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetNoDelay(true)
	}

	peer := conn.RemoteAddr().String()
	var requestID uint64

	for {
		select {
		case <-shutdown:
			return nil
		default:
		}

		buf := make([]byte, tcpBufferSize)
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		n, err := conn.Read(buf)
		if err != nil {
			if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)) {
				return nil
			}
			return err
		}

		requestID++
		start := time.Now()

		resp, procErr := h.process(ctx, buf[:n])
		success := procErr == nil

		if procErr != nil {
			h.stats.RequestProcessed(peer, false, time.Since(start))
			return procErr
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if _, err := conn.Write(resp); err != nil {
			h.stats.RequestProcessed(peer, false, time.Since(start))
			return err
		}

		h.stats.RequestProcessed(peer, success, time.Since(start))
		slog.Debug("request processed", "peer", peer, "request_id", requestID, "bytes_in", n, "bytes_out", len(resp))
	}
}

// process validates the MBAP header and runs the bridge; this is where
// frame/CRC/protocol errors surface to the caller, which closes the
// connection — transport-level failures never reach here as errors, since
// the bridge already turned them into a Modbus exception reply.
func (h *Handler) process(ctx context.Context, raw []byte) ([]byte, error) {
	f, err := frame.DecodeMBAP(raw)
	if err != nil {
		return nil, err
	}
	return h.bridge.Process(ctx, f.TransactionID, f.UnitID, f.PDU)
}

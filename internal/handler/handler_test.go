// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package handler

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-relay/internal/bridge"
	"github.com/ffutop/modbus-relay/internal/modbus/crc"
	"github.com/ffutop/modbus-relay/internal/stats"
)

type stubTransport struct{ resp []byte }

func (s *stubTransport) Transaction(ctx context.Context, request []byte) ([]byte, error) {
	return s.resp, nil
}

func buildRTUResponse(unitID byte, pdu []byte) []byte {
	body := append([]byte{unitID}, pdu...)
	sum := crc.Checksum(body)
	return append(body, byte(sum), byte(sum>>8))
}

func startStatsActor(t *testing.T) *stats.Actor {
	t.Helper()
	a := stats.NewActor(stats.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a
}

func TestHandler_Serve_HappyPath(t *testing.T) {
	rtuResp := buildRTUResponse(0x11, []byte{0x03, 0x02, 0x00, 0x2A})
	b := bridge.New(&stubTransport{resp: rtuResp})
	h := New(b, startStatsActor(t))

	clientConn, serverConn := net.Pipe()
	shutdown := make(chan struct{})

	serveDone := make(chan error, 1)
	go func() { serveDone <- h.Serve(context.Background(), serverConn, shutdown) }()

	req := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := clientConn.Write(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp := make([]byte, 256)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(resp)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x11, 0x03, 0x02, 0x00, 0x2A}
	if !bytes.Equal(resp[:n], want) {
		t.Errorf("response mismatch.\nwant: %X\ngot:  %X", want, resp[:n])
	}

	clientConn.Close()
	<-serveDone
}

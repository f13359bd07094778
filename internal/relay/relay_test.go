// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package relay

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-relay/internal/bridge"
	"github.com/ffutop/modbus-relay/internal/config"
	"github.com/ffutop/modbus-relay/internal/conn"
	"github.com/ffutop/modbus-relay/internal/handler"
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

// newTestRelay builds a Relay without touching a real serial device, so the
// accept loop, admission control, and shutdown sequence can be exercised
// end-to-end over a real loopback TCP listener.
func newTestRelay(t *testing.T) *Relay {
	t.Helper()

	statsActor := stats.NewActor(stats.DefaultConfig())
	b := bridge.New(&stubTransport{resp: buildRTUResponse(0x01, []byte{0x03, 0x02, 0x00, 0x2A})})
	connMgr := conn.NewManager(conn.Config{MaxConnections: 10, PerIPLimit: 5}, statsActor)

	return &Relay{
		cfg:        &config.Config{TCP: config.TCPConfig{BindAddr: "127.0.0.1", BindPort: 0}},
		bridge:     b,
		stats:      statsActor,
		connMgr:    connMgr,
		handler:    handler.New(b, statsActor),
		shutdownCh: make(chan struct{}),
	}
}

func TestRelay_AcceptLoop_ServesAndShutsDownCleanly(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	r := newTestRelay(t)
	r.listener = listener

	ctx, cancel := context.WithCancel(context.Background())

	statsCtx, statsCancel := context.WithCancel(context.Background())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.stats.Run(statsCtx)
	}()

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- r.acceptLoop(ctx) }()

	clientConn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial relay: %v", err)
	}

	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	if _, err := clientConn.Write(request); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	resp := make([]byte, 11)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(clientConn, resp); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x2A}
	if !bytes.Equal(resp, want) {
		t.Errorf("response mismatch.\nwant: %X\ngot:  %X", want, resp)
	}
	clientConn.Close()

	cancel()
	r.shutdown(statsCancel)

	select {
	case err := <-acceptDone:
		if err != nil {
			t.Errorf("acceptLoop returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acceptLoop did not exit after shutdown")
	}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

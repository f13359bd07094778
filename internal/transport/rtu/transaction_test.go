// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/modbus-relay/internal/modbus/crc"
)

// mockPort mimics the teacher's mockPort: a bytes.Reader/bytes.Buffer pair
// standing in for the serial device, plus a Close no-op.
type mockPort struct {
	*bytes.Reader
	*bytes.Buffer
}

func (m *mockPort) Read(p []byte) (int, error)  { return m.Reader.Read(p) }
func (m *mockPort) Write(p []byte) (int, error) { return m.Buffer.Write(p) }
func (m *mockPort) Close() error                { return nil }

func newTransport(port *mockPort, timeout time.Duration) *Transport {
	return &Transport{
		opts: Options{
			TransactionTimeout: timeout,
			InterByteTimeout:   20 * time.Millisecond,
		},
		port: port,
	}
}

func buildRTU(unitID byte, pdu []byte) []byte {
	body := append([]byte{unitID}, pdu...)
	sum := crc.Checksum(body)
	return append(body, byte(sum), byte(sum>>8))
}

func TestTransaction_HappyPath(t *testing.T) {
	respADU := buildRTU(0x01, []byte{0x03, 0x02, 0xAA, 0xBB})
	port := &mockPort{Reader: bytes.NewReader(respADU), Buffer: &bytes.Buffer{}}
	tr := newTransport(port, time.Second)

	reqADU := buildRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	resp, err := tr.Transaction(context.Background(), reqADU)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if !bytes.Equal(resp, respADU) {
		t.Errorf("response mismatch.\nwant: %X\ngot:  %X", respADU, resp)
	}
	if !bytes.Equal(port.Buffer.Bytes(), reqADU) {
		t.Errorf("request not written verbatim.\nwant: %X\ngot:  %X", reqADU, port.Buffer.Bytes())
	}
}

// silentPort never produces a byte: every Read reports the same sentinel
// error, simulating a slave that never answers.
type silentPort struct{ errRead error }

func (s *silentPort) Read(p []byte) (int, error)  { return 0, s.errRead }
func (s *silentPort) Write(p []byte) (int, error) { return len(p), nil }
func (s *silentPort) Close() error                { return nil }

func TestTransaction_NoResponse(t *testing.T) {
	port := &silentPort{errRead: errors.New("i/o timeout")}
	tr := &Transport{opts: Options{TransactionTimeout: 2 * time.Second, InterByteTimeout: 20 * time.Millisecond}, port: port}

	reqADU := buildRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := tr.Transaction(context.Background(), reqADU)

	var noResp *NoResponseError
	if !errors.As(err, &noResp) {
		t.Fatalf("expected *NoResponseError, got %T: %v", err, err)
	}
}

// trickleThenStallPort yields a fixed prefix one byte at a time, then goes
// silent forever (0 bytes, nil error) — the behavior a real serial driver
// exhibits while the inter-byte timer, not EOF, is what ends the read.
type trickleThenStallPort struct {
	remaining []byte
}

func (p *trickleThenStallPort) Read(buf []byte) (int, error) {
	if len(p.remaining) == 0 {
		return 0, nil
	}
	n := copy(buf, p.remaining[:1])
	p.remaining = p.remaining[1:]
	return n, nil
}
func (p *trickleThenStallPort) Write(buf []byte) (int, error) { return len(buf), nil }
func (p *trickleThenStallPort) Close() error                  { return nil }

// flushingMockPort extends mockPort with a Flush call counter, to verify
// FlushAfterWrite is honored without requiring a real serial device.
type flushingMockPort struct {
	*mockPort
	flushes int
}

func (f *flushingMockPort) Flush() error {
	f.flushes++
	return nil
}

func TestTransaction_FlushAfterWrite(t *testing.T) {
	respADU := buildRTU(0x01, []byte{0x03, 0x02, 0xAA, 0xBB})
	base := &mockPort{Reader: bytes.NewReader(respADU), Buffer: &bytes.Buffer{}}
	port := &flushingMockPort{mockPort: base}

	tr := &Transport{
		opts: Options{TransactionTimeout: time.Second, InterByteTimeout: 20 * time.Millisecond, FlushAfterWrite: true},
		port: port,
	}

	reqADU := buildRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	if _, err := tr.Transaction(context.Background(), reqADU); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if port.flushes != 1 {
		t.Errorf("expected exactly 1 flush, got %d", port.flushes)
	}
}

func TestTransaction_NoFlushWhenDisabled(t *testing.T) {
	respADU := buildRTU(0x01, []byte{0x03, 0x02, 0xAA, 0xBB})
	base := &mockPort{Reader: bytes.NewReader(respADU), Buffer: &bytes.Buffer{}}
	port := &flushingMockPort{mockPort: base}

	tr := &Transport{
		opts: Options{TransactionTimeout: time.Second, InterByteTimeout: 20 * time.Millisecond, FlushAfterWrite: false},
		port: port,
	}

	reqADU := buildRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	if _, err := tr.Transaction(context.Background(), reqADU); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if port.flushes != 0 {
		t.Errorf("expected no flush when FlushAfterWrite is false, got %d", port.flushes)
	}
}

func TestTransaction_PartialResponseInterByteSilence(t *testing.T) {
	// Only 4 of the expected 7 bytes ever arrive; the reader should return
	// what it has once the inter-byte silence window elapses.
	respADU := buildRTU(0x01, []byte{0x03, 0x02, 0xAA, 0xBB})
	port := &trickleThenStallPort{remaining: append([]byte(nil), respADU[:4]...)}
	tr := &Transport{opts: Options{TransactionTimeout: 500 * time.Millisecond, InterByteTimeout: 20 * time.Millisecond}, port: port}

	reqADU := buildRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	resp, err := tr.Transaction(context.Background(), reqADU)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if len(resp) != 4 {
		t.Errorf("expected partial read of 4 bytes, got %d", len(resp))
	}
}

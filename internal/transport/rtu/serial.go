// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the exclusive, mutex-guarded Modbus RTU serial
// transport: a single writer-then-reader transaction per call, RS-485 RTS
// direction control, and the inter-byte-silence response reader.
package rtu

import (
	"io"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// Options configures a Transport: the serial line parameters plus the
// RTU-specific timing and RS-485 behavior spec.md §4.2 calls for.
type Options struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int

	SerialTimeout      time.Duration
	TransactionTimeout time.Duration
	InterByteTimeout   time.Duration
	RTSDelay           time.Duration
	TraceFrames        bool

	// RTSEnabled switches on the driver's RS485Config; RTSHighDuringSend
	// selects RtsType::Up (true) vs RtsType::Down (false) semantics.
	RTSEnabled        bool
	RTSHighDuringSend bool

	// FlushAfterWrite drains OS-level tx/rx buffers after writing a request,
	// per spec.md §4.2 step 5.
	FlushAfterWrite bool
}

// flusher is implemented by serial ports that can drain OS-level tx/rx
// buffers (a termios TCIOFLUSH on Linux). Ports that don't support it are
// left alone rather than failing the transaction.
type flusher interface {
	Flush() error
}

// Transport is an exclusive Modbus RTU master over a single serial line.
// Every Transaction call holds the port mutex for its full duration:
// spec.md's gateway never pipelines requests onto the bus.
type Transport struct {
	opts Options

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// Open configures and opens the serial port described by opts.
func Open(opts Options) (*Transport, error) {
	cfg := &serial.Config{
		Address:  opts.Device,
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   opts.Parity,
		StopBits: opts.StopBits,
		Timeout:  opts.SerialTimeout,
	}
	if opts.RTSEnabled {
		cfg.RS485.Enabled = true
		cfg.RS485.DelayRtsBeforeSend = opts.RTSDelay
		cfg.RS485.DelayRtsAfterSend = opts.RTSDelay
		cfg.RS485.RtsHighDuringSend = opts.RTSHighDuringSend
		cfg.RS485.RtsHighAfterSend = !opts.RTSHighDuringSend
	}

	port, err := serial.Open(cfg)
	if err != nil {
		return nil, &IOError{Op: "open", Details: opts.Device, Err: err}
	}

	return &Transport{opts: opts, port: port}, nil
}

// flush drains OS-level tx/rx buffers if the underlying port supports it and
// opts.FlushAfterWrite is set. Caller must hold t.mu.
func (t *Transport) flush() error {
	if !t.opts.FlushAfterWrite {
		return nil
	}
	f, ok := t.port.(flusher)
	if !ok {
		return nil
	}
	if err := f.Flush(); err != nil {
		return &IOError{Op: "flush", Details: "serial flush", Err: err}
	}
	return nil
}

// Close releases the underlying serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}


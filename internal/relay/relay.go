// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package relay wires the gateway's components together and supervises
// their lifetime: TCP accept loop, idle-connection cleanup, periodic stats
// logging, the optional HTTP observability server, and graceful shutdown.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-relay/internal/bridge"
	"github.com/ffutop/modbus-relay/internal/config"
	"github.com/ffutop/modbus-relay/internal/conn"
	"github.com/ffutop/modbus-relay/internal/handler"
	"github.com/ffutop/modbus-relay/internal/httpapi"
	"github.com/ffutop/modbus-relay/internal/stats"
	"github.com/ffutop/modbus-relay/internal/transport/rtu"
)

const (
	cleanupInterval       = 60 * time.Second
	statsLogInterval      = 5 * time.Minute
	acceptErrorBackoff    = 100 * time.Millisecond
	shutdownStatsDeadline = 5 * time.Second
	shutdownWaitDeadline  = 5 * time.Second
)

// Relay is the assembled gateway: one RTU downstream bus, one TCP listener,
// connection admission control, and the stats actor they all report to.
type Relay struct {
	cfg *config.Config

	transport *rtu.Transport
	bridge    *bridge.Bridge
	stats     *stats.Actor
	connMgr   *conn.Manager
	handler   *handler.Handler
	http      *httpapi.Server

	listener net.Listener

	shutdownCh chan struct{}
	shutdownMu sync.Once
	wg         sync.WaitGroup
}

// New assembles a Relay from cfg, opening the serial port. The port is
// closed by Run's shutdown path.
func New(cfg *config.Config) (*Relay, error) {
	transport, err := openWithBackoff(rtu.Options{
		Device:             cfg.RTU.Device,
		BaudRate:           cfg.RTU.BaudRate,
		DataBits:           cfg.RTU.DataBits,
		Parity:             cfg.RTU.Parity,
		StopBits:           cfg.RTU.StopBits,
		SerialTimeout:      cfg.RTU.SerialTimeout,
		TransactionTimeout: cfg.RTU.TransactionTimeout,
		RTSDelay:           time.Duration(cfg.RTU.RTSDelayUS) * time.Microsecond,
		TraceFrames:        cfg.RTU.TraceFrames,
		FlushAfterWrite:    cfg.RTU.FlushAfterWrite,
		RTSEnabled:         cfg.RTU.RTSType != config.RTSNone,
		RTSHighDuringSend:  cfg.RTU.RTSType.SignalLevel(true),
	}, cfg.Backoff)
	if err != nil {
		return nil, err
	}

	statsActor := stats.NewActor(stats.Config{
		EventBufferSize: cfg.Connection.MaxEventsPerSec,
		CleanupInterval: cfg.Connection.CleanupInterval,
		IdleTimeout:     cfg.Connection.IdleTimeout,
		ErrorTimeout:    cfg.Connection.ErrorTimeout,
	})

	b := bridge.New(transport)
	connMgr := conn.NewManager(conn.Config{
		MaxConnections: cfg.Connection.MaxConnections,
		PerIPLimit:     cfg.Connection.PerIPLimit,
	}, statsActor)

	r := &Relay{
		cfg:        cfg,
		transport:  transport,
		bridge:     b,
		stats:      statsActor,
		connMgr:    connMgr,
		handler:    handler.New(b, statsActor),
		shutdownCh: make(chan struct{}),
	}

	if cfg.HTTP.Enabled {
		r.http = httpapi.New(fmt.Sprintf("%s:%d", cfg.HTTP.BindAddr, cfg.HTTP.BindPort), statsActor)
	}

	return r, nil
}

// Run binds the TCP listener and blocks accepting connections until ctx is
// cancelled, then runs the graceful shutdown sequence.
func (r *Relay) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.cfg.TCP.BindAddr, r.cfg.TCP.BindPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay: listening on %s: %w", addr, err)
	}
	r.listener = listener
	slog.Info("listening", "addr", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	statsCtx, statsCancel := context.WithCancel(context.Background())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.stats.Run(statsCtx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cleanupLoop(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.statsLogLoop(ctx)
	}()

	if r.http != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.http.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) {
				slog.Error("http server stopped", "err", err)
			}
		}()
	}

	acceptErr := r.acceptLoop(ctx)

	r.shutdown(statsCancel)
	return acceptErr
}

func (r *Relay) acceptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		socket, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			time.Sleep(acceptErrorBackoff)
			continue
		}

		peer := socket.RemoteAddr().String()
		slog.Info("new connection", "peer", peer)

		guard, err := r.connMgr.Accept(peer)
		if err != nil {
			slog.Warn("connection rejected", "peer", peer, "err", err)
			socket.Close()
			time.Sleep(acceptErrorBackoff)
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer guard.Release()
			if err := r.handler.Serve(ctx, socket, r.shutdownCh); err != nil {
				slog.Error("client error", "peer", peer, "err", err)
			}
		}()
	}
}

func (r *Relay) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.connMgr.CleanupIdle(ctx)
		}
	}
}

func (r *Relay) statsLogLoop(ctx context.Context) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := r.stats.Snapshot(ctx)
			if !ok {
				continue
			}
			slog.Info("connection stats",
				"total_connections", snap.TotalConnections,
				"active_connections", snap.ActiveConnections,
				"total_requests", snap.TotalRequests,
				"total_errors", snap.TotalErrors,
				"requests_per_second", snap.RequestsPerSecond,
			)
		}
	}
}

// shutdown closes the shutdown broadcast, the listener and the HTTP server,
// waits up to shutdownWaitDeadline for the goroutines tracked by r.wg, then
// closes the serial port and stops the stats actor last. It does not poll
// the stats actor for zero active connections, and the serial port is
// closed only after the wait.
func (r *Relay) shutdown(stopStats context.CancelFunc) {
	slog.Info("initiating graceful shutdown")
	r.shutdownMu.Do(func() { close(r.shutdownCh) })

	if r.listener != nil {
		r.listener.Close()
	}
	if r.http != nil {
		httpCtx, cancel := context.WithTimeout(context.Background(), shutdownStatsDeadline)
		r.http.Shutdown(httpCtx)
		cancel()
	}

	deadline := time.Now().Add(shutdownWaitDeadline)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		slog.Warn("shutdown deadline exceeded, residual tasks may still be running")
	}

	if r.transport != nil {
		if err := r.transport.Close(); err != nil {
			slog.Warn("error closing serial port", "err", err)
		}
	}

	stopStats()
	slog.Info("shutdown complete")
}

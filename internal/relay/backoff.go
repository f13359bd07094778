// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package relay

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ffutop/modbus-relay/internal/config"
	"github.com/ffutop/modbus-relay/internal/transport/rtu"
)

// openWithBackoff retries rtu.Open using the configured exponential backoff:
// wait min(initial*multiplier^attempt, max) between attempts, giving up once
// max_retries is exhausted. Opening a serial device is the one part of
// startup expected to transiently fail (USB adapter not yet enumerated,
// device busy from a prior process), so it is the operation backoff.* guards.
func openWithBackoff(opts rtu.Options, cfg config.BackoffConfig) (*rtu.Transport, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		transport, err := rtu.Open(opts)
		if err == nil {
			return transport, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoffDelay(cfg, attempt)
		slog.Warn("failed to open serial device, retrying", "device", opts.Device, "attempt", attempt+1, "wait", wait, "err", err)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("relay: opening serial port %s after %d attempts: %w", opts.Device, cfg.MaxRetries+1, lastErr)
}

func backoffDelay(cfg config.BackoffConfig, attempt int) time.Duration {
	delay := float64(cfg.Initial) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.Max) {
		return cfg.Max
	}
	return time.Duration(delay)
}

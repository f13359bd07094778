// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package relay

import (
	"testing"
	"time"

	"github.com/ffutop/modbus-relay/internal/config"
	"github.com/ffutop/modbus-relay/internal/transport/rtu"
)

func TestBackoffDelay_ExponentialUpToMax(t *testing.T) {
	cfg := config.BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        1 * time.Second,
		Multiplier: 2.0,
		MaxRetries: 10,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // 1.6s would exceed max, clamp
		{10, 1 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(cfg, c.attempt); got != c.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestOpenWithBackoff_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := config.BackoffConfig{
		Initial:    1 * time.Millisecond,
		Max:        2 * time.Millisecond,
		Multiplier: 2.0,
		MaxRetries: 2,
	}

	opts := rtu.Options{Device: "/dev/nonexistent-modbus-relay-test-device"}

	start := time.Now()
	_, err := openWithBackoff(opts, cfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error opening a nonexistent serial device")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("openWithBackoff took too long to give up: %v", elapsed)
	}
}

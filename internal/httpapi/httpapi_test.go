// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ffutop/modbus-relay/internal/stats"
)

func TestHandleHealth_OK(t *testing.T) {
	a := stats.NewActor(stats.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	s := New(":0", a)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %q", body.Status)
	}
}

func TestHandleStats_SurfacesAvgResponseTime(t *testing.T) {
	a := stats.NewActor(stats.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	a.Connected("10.0.0.1:1")
	a.RequestProcessed("10.0.0.1:1", true, 42*time.Millisecond)

	s := New(":0", a)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AvgResponseTimeMS != 42 {
		t.Errorf("expected avg_response_time_ms = 42, got %v", body.AvgResponseTimeMS)
	}
	if body.RequestsPerSecond != 1.0/60.0 {
		t.Errorf("expected requests_per_second = 1/60, got %v", body.RequestsPerSecond)
	}
}

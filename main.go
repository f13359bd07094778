// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/ffutop/modbus-relay/internal/config"
	"github.com/ffutop/modbus-relay/internal/relay"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	dumpDefault := flag.Bool("dump-default-config", false, "Print the default configuration as YAML and exit")
	flag.Parse()

	if *dumpDefault {
		if err := dumpDefaultConfig(); err != nil {
			fmt.Printf("Failed to dump default configuration: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("starting modbus gateway", "tcp_addr", fmt.Sprintf("%s:%d", cfg.TCP.BindAddr, cfg.TCP.BindPort), "rtu_device", cfg.RTU.Device)

	r, err := relay.New(cfg)
	if err != nil {
		slog.Error("failed to initialize relay", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := r.Run(ctx); err != nil {
		slog.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}

	slog.Info("goodbye")
}

func dumpDefaultConfig() error {
	out, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

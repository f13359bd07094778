// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads and validates the gateway's configuration: a single
// TCP-facing, RTU-backed bus with connection, backoff, HTTP, and logging
// sections, via viper (YAML file + defaults + environment overrides).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level, single-bus gateway configuration.
type Config struct {
	TCP        TCPConfig        `mapstructure:"tcp" yaml:"tcp"`
	RTU        RTUConfig        `mapstructure:"rtu" yaml:"rtu"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Backoff    BackoffConfig    `mapstructure:"backoff" yaml:"backoff"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// TCPConfig describes the listening side of the gateway.
type TCPConfig struct {
	BindAddr     string `mapstructure:"bind_addr" yaml:"bind_addr"`
	BindPort     int    `mapstructure:"bind_port" yaml:"bind_port"`
	MaxFrameSize int    `mapstructure:"max_frame_size" yaml:"max_frame_size"`
}

// RTUConfig describes the downstream serial bus.
type RTUConfig struct {
	Device             string        `mapstructure:"device" yaml:"device"`
	BaudRate           int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits           int           `mapstructure:"data_bits" yaml:"data_bits"`
	Parity             string        `mapstructure:"parity" yaml:"parity"`
	StopBits           int           `mapstructure:"stop_bits" yaml:"stop_bits"`
	SerialTimeout      time.Duration `mapstructure:"serial_timeout" yaml:"serial_timeout"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout" yaml:"transaction_timeout"`

	RTSType         RTSType `mapstructure:"rts_type" yaml:"rts_type"`
	RTSDelayUS      uint64  `mapstructure:"rts_delay_us" yaml:"rts_delay_us"`
	FlushAfterWrite bool    `mapstructure:"flush_after_write" yaml:"flush_after_write"`
	TraceFrames     bool    `mapstructure:"trace_frames" yaml:"trace_frames"`
}

// ConnectionConfig bounds admission control.
type ConnectionConfig struct {
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	PerIPLimit      int           `mapstructure:"per_ip_limit" yaml:"per_ip_limit"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ErrorTimeout    time.Duration `mapstructure:"error_timeout" yaml:"error_timeout"`
	MaxEventsPerSec int           `mapstructure:"max_events_per_second" yaml:"max_events_per_second"`
}

// BackoffConfig governs retriable connection-establishment backoff (not
// per-request retries): wait min(initial*multiplier^attempt, max) per spec.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial" yaml:"initial"`
	Max        time.Duration `mapstructure:"max" yaml:"max"`
	Multiplier float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// HTTPConfig controls the optional observability server.
type HTTPConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddr string `mapstructure:"bind_addr" yaml:"bind_addr"`
	BindPort int    `mapstructure:"bind_port" yaml:"bind_port"`
}

// LogConfig controls slog setup.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// LoadConfig reads configFile (or the default search path when empty),
// applies the MODBUS_* environment overrides, unmarshals, and validates.
func LoadConfig(configFile string) (*Config, error) {
	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixup(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the canonical defaults, used for --dump-default-config.
func DefaultConfig() *Config {
	v := newViper("")
	var cfg Config
	_ = v.Unmarshal(&cfg)
	fixup(&cfg)
	return &cfg
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-relay/")
		v.AddConfigPath("$HOME/.modbus-relay")
		v.AddConfigPath(".")
	}

	v.SetDefault("tcp.bind_addr", "0.0.0.0")
	v.SetDefault("tcp.bind_port", 502)
	v.SetDefault("tcp.max_frame_size", 256)

	v.SetDefault("rtu.baud_rate", 9600)
	v.SetDefault("rtu.data_bits", 8)
	v.SetDefault("rtu.parity", "none")
	v.SetDefault("rtu.stop_bits", 1)
	v.SetDefault("rtu.serial_timeout", 500*time.Millisecond)
	v.SetDefault("rtu.transaction_timeout", 1*time.Second)
	v.SetDefault("rtu.rts_type", "down")
	v.SetDefault("rtu.flush_after_write", true)

	v.SetDefault("connection.max_connections", 100)
	v.SetDefault("connection.per_ip_limit", 10)
	v.SetDefault("connection.cleanup_interval", 60*time.Second)
	v.SetDefault("connection.idle_timeout", 5*time.Minute)
	v.SetDefault("connection.error_timeout", 10*time.Minute)
	v.SetDefault("connection.max_events_per_second", 1024)

	v.SetDefault("backoff.initial", 100*time.Millisecond)
	v.SetDefault("backoff.max", 30*time.Second)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("backoff.max_retries", 10)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.bind_addr", "127.0.0.1")
	v.SetDefault("http.bind_port", 8080)

	v.SetDefault("log.level", "info")

	bindEnv(v, "tcp.bind_addr", "MODBUS_TCP_BIND_ADDR")
	bindEnv(v, "tcp.bind_port", "MODBUS_TCP_BIND_PORT")
	bindEnv(v, "rtu.device", "MODBUS_RTU_DEVICE")
	bindEnv(v, "rtu.baud_rate", "MODBUS_RTU_BAUD_RATE")
	bindEnv(v, "rtu.rts_delay_us", "MODBUS_RTS_DELAY_US")
	bindEnv(v, "log.level", "MODBUS_LOG_LEVEL")

	return v
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}

func fixup(cfg *Config) {
	cfg.RTU.Parity = strings.ToLower(cfg.RTU.Parity)
}

// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import "fmt"

// ValidationError reports a single invalid configuration field, named by
// config section (tcp, rtu, connection, http, log).
type ValidationError struct {
	Section string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s.%s: %s", e.Section, e.Field, e.Reason)
}

// Validate checks the loaded configuration for values that would make the
// gateway unable to start correctly. Configuration errors are always fatal
// at startup per spec.md §7's propagation policy.
func (c *Config) Validate() error {
	if c.TCP.BindPort < 1 || c.TCP.BindPort > 65535 {
		return &ValidationError{"tcp", "bind_port", "must be between 1 and 65535"}
	}
	if c.TCP.MaxFrameSize < 8 || c.TCP.MaxFrameSize > 256 {
		return &ValidationError{"tcp", "max_frame_size", "must be between 8 and 256"}
	}

	if c.RTU.Device == "" {
		return &ValidationError{"rtu", "device", "must not be empty"}
	}
	if c.RTU.BaudRate < 1 || c.RTU.BaudRate > 921600 {
		return &ValidationError{"rtu", "baud_rate", "must be between 1 and 921600"}
	}
	if c.RTU.DataBits < 5 || c.RTU.DataBits > 8 {
		return &ValidationError{"rtu", "data_bits", "must be between 5 and 8"}
	}
	switch c.RTU.Parity {
	case "none", "odd", "even":
	default:
		return &ValidationError{"rtu", "parity", "must be none, odd, or even"}
	}
	if c.RTU.StopBits != 1 && c.RTU.StopBits != 2 {
		return &ValidationError{"rtu", "stop_bits", "must be 1 or 2"}
	}
	if !c.RTU.RTSType.valid() {
		return &ValidationError{"rtu", "rts_type", errInvalidRTSType.Error()}
	}
	if c.RTU.RTSDelayUS > 10000 {
		return &ValidationError{"rtu", "rts_delay_us", "must not exceed 10000"}
	}

	if c.Connection.MaxConnections <= 0 {
		return &ValidationError{"connection", "max_connections", "must be positive"}
	}
	if c.Connection.PerIPLimit < 0 {
		return &ValidationError{"connection", "per_ip_limit", "must not be negative"}
	}
	if c.Connection.PerIPLimit > c.Connection.MaxConnections {
		return &ValidationError{"connection", "per_ip_limit", "must not exceed max_connections"}
	}

	if c.HTTP.Enabled && (c.HTTP.BindPort < 1 || c.HTTP.BindPort > 65535) {
		return &ValidationError{"http", "bind_port", "must be between 1 and 65535"}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{"log", "level", "must be debug, info, warn, or error"}
	}

	return nil
}

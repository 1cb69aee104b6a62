// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the process-wide tunables read from reaper.toml
// (or REAPER_CONFIG) and the environment variables spec.md §6 defines.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults mirrors spec.md §6's defaults.
const (
	DefaultRuntimeRoot  = "/run/reaper"
	DefaultOverlayBase  = "/run/reaper/overlay"
	DefaultPollInterval = 250 * time.Millisecond
	DefaultObservation  = 500 * time.Millisecond
	DefaultStartupWait  = 2 * time.Second
	DefaultWaitTimeout  = time.Hour
)

// defaultSensitiveFiles shadows host files that must never leak through
// the shared overlay (spec.md §4.3's sensitive-file filtering).
var defaultSensitiveFiles = []string{
	"/etc/shadow",
	"/etc/gshadow",
	"/etc/ssh/ssh_host_rsa_key",
	"/etc/ssh/ssh_host_ecdsa_key",
	"/etc/ssh/ssh_host_ed25519_key",
}

// Config is the decoded form of reaper.toml. Every field has a zero-value
// default so a missing config file is never an error.
type Config struct {
	RuntimeRoot     string        `toml:"runtime_root"`
	OverlayBase     string        `toml:"overlay_base"`
	PollInterval    time.Duration `toml:"poll_interval"`
	Observation     time.Duration `toml:"observation_window"`
	StartupTimeout  time.Duration `toml:"startup_timeout"`
	WaitTimeout     time.Duration `toml:"wait_timeout"`
	LogLevel        string        `toml:"log_level"`
	LogFormat       string        `toml:"log_format"`
	SensitiveFiles  []string      `toml:"sensitive_files"`
}

// Default returns the built-in configuration, before any file or
// environment override is applied.
func Default() *Config {
	return &Config{
		RuntimeRoot:    DefaultRuntimeRoot,
		OverlayBase:    DefaultOverlayBase,
		PollInterval:   DefaultPollInterval,
		Observation:    DefaultObservation,
		StartupTimeout: DefaultStartupWait,
		WaitTimeout:    DefaultWaitTimeout,
		LogLevel:       "info",
		LogFormat:      "text",
		SensitiveFiles: append([]string(nil), defaultSensitiveFiles...),
	}
}

// Load builds a Config from defaults, an optional TOML file, and the
// REAPER_RUNTIME_ROOT / REAPER_OVERLAY_BASE environment variables, in
// that precedence order (env wins, matching spec.md §6's description of
// those two variables as the authoritative override).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("REAPER_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, err
			}
		}
	}

	if v := os.Getenv("REAPER_RUNTIME_ROOT"); v != "" {
		cfg.RuntimeRoot = v
	}
	if v := os.Getenv("REAPER_OVERLAY_BASE"); v != "" {
		cfg.OverlayBase = v
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Observation == 0 {
		cfg.Observation = DefaultObservation
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = DefaultStartupWait
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if len(cfg.SensitiveFiles) == 0 {
		cfg.SensitiveFiles = append([]string(nil), defaultSensitiveFiles...)
	}
	return cfg, nil
}

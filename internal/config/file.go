// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Thermoquad/triad/pkg/triad"
)

// FileConfig mirrors Config with TOML-friendly types. Durations are strings.
type FileConfig struct {
	Role            string            `toml:"role"`
	Reset           *bool             `toml:"reset"`
	BufferSize      int               `toml:"buffer_size"`
	Seed            string            `toml:"seed"`
	CompareInterval string            `toml:"compare_interval"`
	CompareWindow   int               `toml:"compare_window"`
	LegacyASCII     *bool             `toml:"legacy_ascii"`
	Links           map[string]string `toml:"links"`
	PayloadLink     string            `toml:"payload_link"`
	Baud            int               `toml:"baud"`
	Timeout         string            `toml:"timeout"`
	PollTimeout     string            `toml:"poll_timeout"`
	Username        string            `toml:"username"`
	SkipSSLVerify   *bool             `toml:"insecure"`
	PayloadAddress  int               `toml:"payload_address"`
	QueueCapacity   int               `toml:"queue_capacity"`
	CommandDelay    string            `toml:"command_delay"`
	SpoolDir        string            `toml:"spool_dir"`
	DataDir         string            `toml:"data_dir"`
	LogLevel        string            `toml:"log_level"`
	MQTTBroker      string            `toml:"mqtt_broker"`
}

// LoadFileConfig reads and parses a TOML config file
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.triad/config.toml, or "" without a home dir
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".triad", "config.toml")
	}
	return ""
}

// FileExists reports whether p exists
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFileConfig applies file settings to cfg, skipping changed flags
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("role", fc.Role, &cfg.Role)
	s.setString("seed", fc.Seed, &cfg.Seed)
	s.setString("payload-link", fc.PayloadLink, &cfg.PayloadLink)
	s.setString("username", fc.Username, &cfg.Username)
	s.setString("spool-dir", fc.SpoolDir, &cfg.SpoolDir)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("mqtt-broker", fc.MQTTBroker, &cfg.MQTTBroker)

	if cfg.Links == nil {
		cfg.Links = map[string]string{}
	}
	for name, endpoint := range fc.Links {
		// Accept board letters as keys; unknown names fail Validate
		key := strings.ToLower(name)
		if r, err := triad.ParseRole(name); err == nil {
			key = r.String()
		}
		s.setLink(key, endpoint, cfg.Links)
	}

	if err := s.setDuration("compare-interval", fc.CompareInterval, &cfg.CompareInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.Timeout, &cfg.Timeout); err != nil {
		return err
	}
	if err := s.setDuration("poll-timeout", fc.PollTimeout, &cfg.PollTimeout); err != nil {
		return err
	}
	if err := s.setDuration("command-delay", fc.CommandDelay, &cfg.CommandDelay); err != nil {
		return err
	}

	s.setInt("buffer-size", fc.BufferSize, &cfg.BufferSize)
	s.setInt("compare-window", fc.CompareWindow, &cfg.CompareWindow)
	s.setInt("baud", fc.Baud, &cfg.Baud)
	s.setInt("payload-address", fc.PayloadAddress, &cfg.PayloadAddress)
	s.setInt("queue-capacity", fc.QueueCapacity, &cfg.QueueCapacity)

	s.setBool("reset", fc.Reset, &cfg.Reset)
	s.setBool("legacy-ascii", fc.LegacyASCII, &cfg.LegacyASCII)
	s.setBool("insecure", fc.SkipSSLVerify, &cfg.SkipSSLVerify)

	return nil
}

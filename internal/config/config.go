// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config resolves triad settings from defaults, a TOML file,
// TRIAD_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
	"github.com/Thermoquad/triad/pkg/payload"
	"github.com/Thermoquad/triad/pkg/triad"
)

// Config holds every setting the CLI uses
type Config struct {
	// Board
	Role            string
	Reset           bool
	BufferSize      int
	Seed            string
	CompareInterval time.Duration
	CompareWindow   int
	LegacyASCII     bool

	// Links
	Links         map[string]string // role name -> endpoint
	PayloadLink   string
	Baud          int
	Timeout       time.Duration
	PollTimeout   time.Duration
	Username      string
	SkipSSLVerify bool

	// Payload
	PayloadAddress int
	QueueCapacity  int
	CommandDelay   time.Duration
	SpoolDir       string
	DataDir        string

	// Ambient
	LogLevel   string
	MQTTBroker string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Role:            triad.Primary.String(),
		BufferSize:      triad.DefaultBufferSize,
		CompareInterval: triad.DefaultCompareInterval,
		CompareWindow:   triad.DefaultCompareWindow,
		Links:           map[string]string{},
		Baud:            115200,
		Timeout:         link.DefaultTimeout,
		PollTimeout:     triad.DefaultPollTimeout,
		PayloadAddress:  payload.DefaultAddress,
		QueueCapacity:   payload.DefaultQueueCapacity,
		CommandDelay:    payload.DefaultCommandDelay,
		LogLevel:        "info",
	}
}

// Validate checks the resolved settings
func (c *Config) Validate() error {
	if _, err := triad.ParseRole(c.Role); err != nil {
		return err
	}
	for name := range c.Links {
		if _, err := triad.ParseRole(name); err != nil {
			return fmt.Errorf("links: %w", err)
		}
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if len(c.Seed) > c.BufferSize {
		return fmt.Errorf("seed of %d bytes does not fit buffer of %d", len(c.Seed), c.BufferSize)
	}
	if c.CompareWindow <= 0 || c.CompareWindow > triad.MaxRangeCount {
		return fmt.Errorf("compare window must be in [1, %d], got %d", triad.MaxRangeCount, c.CompareWindow)
	}
	if c.Timeout <= 0 || c.PollTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive (timeout %v, poll timeout %v)", c.Timeout, c.PollTimeout)
	}
	if c.CompareInterval < 0 || c.CommandDelay < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.PayloadAddress < 0 || c.PayloadAddress > frame.MaxAddress {
		return fmt.Errorf("payload address must be in [0, %d], got %d", frame.MaxAddress, c.PayloadAddress)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.Baud)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// BoardRole returns the parsed role
func (c *Config) BoardRole() triad.Role {
	r, _ := triad.ParseRole(c.Role)
	return r
}

// LinkFor returns the endpoint configured for a peer role
func (c *Config) LinkFor(r triad.Role) string {
	return c.Links[r.String()]
}

// Resolve applies the config file at path (if it exists) and the environment
// to cfg, skipping settings whose flags were set explicitly, then validates.
func Resolve(cfg *Config, path string, changed map[string]bool) error {
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

// configSetter applies values unless the corresponding flag was set
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt ignores non-positive values
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

// setBoolFromString accepts "true" and "1" as true
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setLink sets one entry of the link table
func (s *configSetter) setLink(role, value string, links map[string]string) {
	if value == "" || s.changed["link-"+role] {
		return
	}
	links[role] = value
}

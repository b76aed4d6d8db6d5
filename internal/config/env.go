// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"

	"github.com/Thermoquad/triad/pkg/triad"
)

// ApplyEnvConfig applies TRIAD_* environment variables to cfg, skipping
// changed flags
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("role", os.Getenv("TRIAD_ROLE"), &cfg.Role)
	s.setString("seed", os.Getenv("TRIAD_SEED"), &cfg.Seed)
	s.setString("payload-link", os.Getenv("TRIAD_PAYLOAD_LINK"), &cfg.PayloadLink)
	s.setString("username", os.Getenv("TRIAD_USERNAME"), &cfg.Username)
	s.setString("spool-dir", os.Getenv("TRIAD_SPOOL_DIR"), &cfg.SpoolDir)
	s.setString("data-dir", os.Getenv("TRIAD_DATA_DIR"), &cfg.DataDir)
	s.setString("log-level", os.Getenv("TRIAD_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("mqtt-broker", os.Getenv("TRIAD_MQTT_BROKER"), &cfg.MQTTBroker)

	if cfg.Links == nil {
		cfg.Links = map[string]string{}
	}
	for _, r := range triad.Roles {
		s.setLink(r.String(), os.Getenv("TRIAD_LINK_"+envName(r)), cfg.Links)
	}

	if err := s.setDuration("compare-interval", os.Getenv("TRIAD_COMPARE_INTERVAL"), &cfg.CompareInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("TRIAD_TIMEOUT"), &cfg.Timeout); err != nil {
		return err
	}
	if err := s.setDuration("poll-timeout", os.Getenv("TRIAD_POLL_TIMEOUT"), &cfg.PollTimeout); err != nil {
		return err
	}
	if err := s.setDuration("command-delay", os.Getenv("TRIAD_COMMAND_DELAY"), &cfg.CommandDelay); err != nil {
		return err
	}

	if err := s.setIntFromString("buffer-size", os.Getenv("TRIAD_BUFFER_SIZE"), &cfg.BufferSize); err != nil {
		return err
	}
	if err := s.setIntFromString("compare-window", os.Getenv("TRIAD_COMPARE_WINDOW"), &cfg.CompareWindow); err != nil {
		return err
	}
	if err := s.setIntFromString("baud", os.Getenv("TRIAD_BAUD"), &cfg.Baud); err != nil {
		return err
	}
	if err := s.setIntFromString("payload-address", os.Getenv("TRIAD_PAYLOAD_ADDRESS"), &cfg.PayloadAddress); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-capacity", os.Getenv("TRIAD_QUEUE_CAPACITY"), &cfg.QueueCapacity); err != nil {
		return err
	}

	s.setBoolFromString("reset", os.Getenv("TRIAD_RESET"), &cfg.Reset)
	s.setBoolFromString("legacy-ascii", os.Getenv("TRIAD_LEGACY_ASCII"), &cfg.LegacyASCII)
	s.setBoolFromString("insecure", os.Getenv("TRIAD_INSECURE"), &cfg.SkipSSLVerify)

	return nil
}

func envName(r triad.Role) string {
	switch r {
	case triad.Primary:
		return "PRIMARY"
	case triad.Secondary:
		return "SECONDARY"
	default:
		return "TERTIARY"
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"time"
)

// Statistics tracks frame counts and error rates on a monitored link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames   uint64
	CommandFrames uint64
	DataFrames    uint64
	PayloadBytes  uint64
	SkippedBytes  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	SkipRate  float64 // skipped bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records a completed frame
func (s *Statistics) Update(f *Frame) {
	s.TotalFrames++
	if f.IsData() {
		s.DataFrames++
		s.PayloadBytes += uint64(len(f.Payload()))
	} else {
		s.CommandFrames++
	}
	s.LastUpdateTime = time.Now()
}

// Skip records bytes discarded while hunting for a start marker
func (s *Statistics) Skip(n int) {
	if n <= 0 {
		return
	}
	s.SkippedBytes += uint64(n)
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and skip rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.SkipRate = float64(s.SkippedBytes) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var commandPercent, dataPercent float64
	if s.TotalFrames > 0 {
		commandPercent = float64(s.CommandFrames) * 100.0 / float64(s.TotalFrames)
		dataPercent = float64(s.DataFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Command Frames:  %8d (%.1f%%)\n", s.CommandFrames, commandPercent)
	result += fmt.Sprintf("Data Frames:     %8d (%.1f%%)\n", s.DataFrames, dataPercent)
	result += fmt.Sprintf("Payload Bytes:   %8d\n", s.PayloadBytes)
	if s.SkippedBytes > 0 {
		result += fmt.Sprintf("Skipped Bytes:   %8d\n", s.SkippedBytes)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Skip Rate:       %8.1f bytes/sec\n", s.SkipRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

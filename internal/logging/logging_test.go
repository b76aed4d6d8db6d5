// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("link", "primary").Msg("visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "visible")
	require.Contains(t, out, "link=")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("chatty", nil)
	require.Error(t, err)
}

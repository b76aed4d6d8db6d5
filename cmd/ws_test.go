// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/link"
)

// bridgeServer imitates a WebSocket serial bridge that sends stream once the
// client authenticates
func bridgeServer(t *testing.T, stream [][]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "ground" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range stream {
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func withLinkConfig(t *testing.T, username string) {
	t.Helper()
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg.Username = username
	cfg.Timeout = 50 * time.Millisecond
}

func TestOpenLink_WebSocketFrames(t *testing.T) {
	withLinkConfig(t, "ground")
	t.Setenv("TRIAD_PASSWORD", "s3cret")

	server := bridgeServer(t, [][]byte{
		{0x00, 0x13},             // line noise
		{0x6B, 0x03, 0xAA},       // frame split across messages
		{0xBB, 0xCC, 0x66, 0x07}, // rest of it, then a command frame
	})
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	tr, connInfo, err := OpenLink(wsURL)
	require.NoError(t, err)
	defer tr.Close()
	require.Equal(t, "WebSocket: "+wsURL, connInfo)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frames []*frame.Frame
	var skips []int
	err = streamFrames(ctx, tr, func(f *frame.Frame, skipped int) {
		frames = append(frames, f)
		skips = append(skips, skipped)
		if len(frames) == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	require.Equal(t, uint8(5), frames[0].Address())
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, frames[0].Payload())
	require.True(t, frames[1].IsCommand())
	require.Equal(t, uint8(0x07), frames[1].CommandID())
	require.Equal(t, []int{2, 0}, skips)
}

func TestOpenLink_WebSocketBadPassword(t *testing.T) {
	withLinkConfig(t, "ground")
	t.Setenv("TRIAD_PASSWORD", "guess")

	server := bridgeServer(t, nil)
	_, _, err := OpenLink("ws" + strings.TrimPrefix(server.URL, "http"))
	require.Error(t, err)
}

func TestOpenLink_NoEndpoint(t *testing.T) {
	_, _, err := OpenLink("")
	require.Error(t, err)
}

func TestWaitForFrame(t *testing.T) {
	withLinkConfig(t, "")
	a, b := link.Pipe()
	defer a.Close()

	require.NoError(t, a.Send([]byte{0xFF, 0x66, 0x01}, time.Second))
	f, skipped, err := waitForFrame(context.Background(), b)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, 1, skipped)
	require.Equal(t, uint8(0x01), f.CommandID())

	// Nothing more arrives
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	f, _, err = waitForFrame(ctx, b)
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestStreamFrames_ClosedLinkEnds(t *testing.T) {
	withLinkConfig(t, "")
	a, b := link.Pipe()
	require.NoError(t, a.Close())

	err := streamFrames(context.Background(), b, func(*frame.Frame, int) {
		t.Fatal("unexpected frame")
	})
	require.NoError(t, err)
}

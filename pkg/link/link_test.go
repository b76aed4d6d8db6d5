// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testTimeout = 200 * time.Millisecond

// fakePort replays scripted reads. An empty script entry is a driver timeout.
type fakePort struct {
	reads   [][]byte
	written []byte
	readErr error
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	n := copy(p, f.reads[0])
	f.reads[0] = f.reads[0][n:]
	if len(f.reads[0]) == 0 {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func TestSerial_SendReceive(t *testing.T) {
	port := &fakePort{reads: [][]byte{{0x6B, 0x03}, {0xAA, 0xBB, 0xCC}}}
	s := newSerial(port, "/dev/fake")
	require.Equal(t, "/dev/fake", s.Name())

	require.NoError(t, s.Send([]byte{1, 2, 3}, testTimeout))
	require.Equal(t, []byte{1, 2, 3}, port.written)

	buf := make([]byte, 4)
	require.NoError(t, s.Receive(buf, testTimeout))
	require.Equal(t, []byte{0x6B, 0x03, 0xAA, 0xBB}, buf)

	one := make([]byte, 1)
	require.NoError(t, s.Receive(one, testTimeout))
	require.Equal(t, byte(0xCC), one[0])
}

func TestSerial_TimeoutKeepsPartialBytes(t *testing.T) {
	port := &fakePort{reads: [][]byte{{0x01}}}
	s := newSerial(port, "/dev/fake")

	buf := make([]byte, 2)
	err := s.Receive(buf, 5*time.Millisecond)
	require.True(t, IsTimeout(err))
	require.False(t, IsHardwareFault(err))

	port.reads = [][]byte{{0x02}}
	require.NoError(t, s.Receive(buf, testTimeout))
	require.Equal(t, []byte{0x01, 0x02}, buf)
}

func TestSerial_HardwareFault(t *testing.T) {
	port := &fakePort{readErr: errors.New("device unplugged")}
	s := newSerial(port, "/dev/fake")

	err := s.Receive(make([]byte, 1), testTimeout)
	require.True(t, IsHardwareFault(err))
	require.Contains(t, err.Error(), "device unplugged")

	require.NoError(t, s.Close())
	require.True(t, port.closed)
	require.ErrorIs(t, s.Send([]byte{1}, testTimeout), ErrClosed)
	require.True(t, IsHardwareFault(ErrClosed))
}

func TestPipe_RoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	require.NoError(t, a.Send([]byte{1, 2}, testTimeout))
	require.NoError(t, a.Send([]byte{3}, testTimeout))

	buf := make([]byte, 3)
	require.NoError(t, b.Receive(buf, testTimeout))
	require.Equal(t, []byte{1, 2, 3}, buf)

	require.NoError(t, b.Send([]byte{9}, testTimeout))
	one := make([]byte, 1)
	require.NoError(t, a.Receive(one, testTimeout))
	require.Equal(t, byte(9), one[0])
}

func TestPipe_SendCopiesBuffer(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	p := []byte{1, 2}
	require.NoError(t, a.Send(p, testTimeout))
	p[0] = 0xFF

	buf := make([]byte, 2)
	require.NoError(t, b.Receive(buf, testTimeout))
	require.Equal(t, []byte{1, 2}, buf)
}

func TestPipe_TimeoutConsumesNothing(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	require.NoError(t, a.Send([]byte{7}, testTimeout))

	buf := make([]byte, 2)
	require.True(t, IsTimeout(b.Receive(buf, 5*time.Millisecond)))

	require.NoError(t, a.Send([]byte{8}, testTimeout))
	require.NoError(t, b.Receive(buf, testTimeout))
	require.Equal(t, []byte{7, 8}, buf)
}

func TestPipe_Close(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, b.Close())
	require.NoError(t, a.Close())

	require.ErrorIs(t, a.Send([]byte{1}, testTimeout), ErrClosed)
	require.ErrorIs(t, b.Receive(make([]byte, 1), testTimeout), ErrClosed)
}

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo binary messages, ignore text
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("noise"))
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	_, err := DialWebSocket(wsURL, "admin", "wrong", false)
	require.Error(t, err)

	ws, err := DialWebSocket(wsURL, "admin", "secret", false)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Send([]byte{0x6B, 0x01}, time.Second))
	require.NoError(t, ws.Send([]byte{0xAA}, time.Second))

	buf := make([]byte, 3)
	require.NoError(t, ws.Receive(buf, time.Second))
	require.Equal(t, []byte{0x6B, 0x01, 0xAA}, buf)

	require.True(t, IsTimeout(ws.Receive(buf, 10*time.Millisecond)))

	require.NoError(t, ws.Close())
	require.ErrorIs(t, ws.Send([]byte{1}, time.Second), ErrClosed)
}

func TestDialWebSocket_BadScheme(t *testing.T) {
	_, err := DialWebSocket("http://localhost:1", "", "", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported URL scheme")
}

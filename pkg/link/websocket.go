// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a Transport over a WebSocket bridge. Each Send is one binary
// message; received binary messages are concatenated into a byte stream.
type WebSocket struct {
	conn   *websocket.Conn
	reader chunkReader
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	readErr error
}

// DialWebSocket connects to a ws:// or wss:// bridge with optional HTTP Basic auth
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection and starts its reader
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	chunks := make(chan []byte, pipeDepth)
	w := &WebSocket{
		conn: conn,
		done: make(chan struct{}),
	}
	w.reader = chunkReader{chunks: chunks, done: w.done, err: w.lastReadErr}
	go w.readLoop(chunks)
	return w
}

func (w *WebSocket) readLoop(chunks chan<- []byte) {
	defer close(chunks)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}

		// Only binary messages carry frames
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case chunks <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) lastReadErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readErr
}

// Send writes p as one binary message
func (w *WebSocket) Send(p []byte, timeout time.Duration) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return hardwareFault("websocket deadline", err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return timeoutError("websocket write", 0, len(p), timeout)
		}
		return hardwareFault("websocket write", err)
	}
	return nil
}

// Receive fills p from received binary messages
func (w *WebSocket) Receive(p []byte, timeout time.Duration) error {
	return w.reader.receive(p, timeout)
}

// Close closes the connection
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

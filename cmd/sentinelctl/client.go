package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentineld/autocracy/internal/session"
)

// dial opens an admin session over the Unix control socket. The
// gorilla/websocket client dials through a custom net.Dial so the "ws://"
// URL's host component is ignored in favor of socketPath.
func dial(socketPath string) (*session.Session, func(), error) {
	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.DialTimeout("unix", socketPath, 5*time.Second)
		},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial("ws://unix/admin", http.Header{})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}

	sess := session.New(conn, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Serve(ctx) }()
	closer := func() {
		cancel()
		conn.Close()
	}
	return sess, closer, nil
}

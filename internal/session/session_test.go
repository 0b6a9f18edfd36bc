package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// pair returns two Sessions connected back to back over an in-process pipe,
// with their Serve loops already running.
func pair(t *testing.T, clientRoutes, serverRoutes Routes) (*Session, *Session) {
	t.Helper()
	c1, c2 := net.Pipe()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := New(websocket.NewConn(c1, false, 4096, 4096), clientRoutes, log)
	server := New(websocket.NewConn(c2, true, 4096, 4096), serverRoutes, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go client.Serve(ctx)
	go server.Serve(ctx)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	return client, server
}

func TestRemoteCommandRoundTrip(t *testing.T) {
	serverRoutes := Routes{
		"echo": {
			Mode: Immediate,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				var s string
				if err := json.Unmarshal(args[0], &s); err != nil {
					return nil, err
				}
				return []any{s + "-pong"}, nil
			},
		},
	}
	client, _ := pair(t, nil, serverRoutes)

	results, err := client.RemoteCommand(context.Background(), "echo", []any{"ping"}, true, time.Second)
	if err != nil {
		t.Fatalf("RemoteCommand failed: %v", err)
	}
	var got string
	if err := json.Unmarshal(results[0], &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "ping-pong" {
		t.Fatalf("got %q, want %q", got, "ping-pong")
	}
}

func TestRemoteCommandErrorReply(t *testing.T) {
	serverRoutes := Routes{
		"fail": {
			Mode: Immediate,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				return nil, errBoom
			},
		},
	}
	client, _ := pair(t, nil, serverRoutes)

	_, err := client.RemoteCommand(context.Background(), "fail", nil, true, time.Second)
	if err == nil {
		t.Fatal("expected an error reply")
	}
	if err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestFireAndForgetDoesNotBlockCaller(t *testing.T) {
	done := make(chan struct{})
	serverRoutes := Routes{
		"notify": {
			Mode: Immediate,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				close(done)
				return nil, nil
			},
		},
	}
	client, _ := pair(t, nil, serverRoutes)

	if _, err := client.RemoteCommand(context.Background(), "notify", nil, false, 0); err != nil {
		t.Fatalf("fire-and-forget send failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestBackgroundHandlerDoesNotBlockNextFrame(t *testing.T) {
	release := make(chan struct{})
	serverRoutes := Routes{
		"slow": {
			Mode: Background,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				<-release
				return []any{"done"}, nil
			},
		},
		"fast": {
			Mode: Immediate,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				return []any{"quick"}, nil
			},
		},
	}
	client, _ := pair(t, nil, serverRoutes)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		client.RemoteCommand(context.Background(), "slow", nil, true, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	results, err := client.RemoteCommand(context.Background(), "fast", nil, true, time.Second)
	if err != nil {
		t.Fatalf("fast command blocked behind slow one: %v", err)
	}
	var got string
	json.Unmarshal(results[0], &got)
	if got != "quick" {
		t.Fatalf("got %q, want quick", got)
	}
	close(release)
	<-slowDone
}

func TestBinaryFrameDeliveredInOrder(t *testing.T) {
	var received [][]byte
	done := make(chan struct{})
	c1, c2 := net.Pipe()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := New(websocket.NewConn(c1, false, 4096, 4096), nil, log)
	server := New(websocket.NewConn(c2, true, 4096, 4096), nil, log)
	server.OnBinary = func(ctx context.Context, data []byte) {
		received = append(received, append([]byte(nil), data...))
		if len(received) == 3 {
			close(done)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Serve(ctx)
	go server.Serve(ctx)
	t.Cleanup(func() { client.Close(); server.Close() })

	client.SendBinary([]byte("one"))
	client.SendBinary([]byte("two"))
	client.SendBinary([]byte("three"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("binary frames never arrived")
	}
	if string(received[0]) != "one" || string(received[1]) != "two" || string(received[2]) != "three" {
		t.Fatalf("out of order delivery: %v", received)
	}
}

func TestTeardownFailsPendingCalls(t *testing.T) {
	serverRoutes := Routes{
		"hang": {
			Mode: Background,
			Handler: func(ctx context.Context, args []json.RawMessage) ([]any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}
	client, server := pair(t, nil, serverRoutes)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.RemoteCommand(context.Background(), "hang", nil, true, 2*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	server.Close()
	client.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the connection tore down")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RemoteCommand never returned after connection close")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}

// Package session implements the bidirectional JSON-RPC-over-WebSocket
// protocol shared by agents, the controller, and the admin client: frames
// encode either a fire-and-forget command, a correlated request/reply pair,
// or an out-of-band binary blob. See rpc.py in the ported reference
// implementation for the protocol this mirrors.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentineld/autocracy/internal/rpcerr"
)

// Mode selects how a Session dispatches an incoming request for a route.
type Mode int

const (
	// Immediate handlers run inline in the receive loop; further frames on
	// this connection are not processed until the handler returns.
	Immediate Mode = iota
	// Background handlers are spawned as a tracked goroutine so the receive
	// loop keeps accepting frames while the handler runs.
	Background
)

// Handler answers a command with a result list, or an error that becomes a
// [false, cid, message] reply (or is logged and dropped for fire-and-forget
// commands).
type Handler func(ctx context.Context, args []json.RawMessage) ([]any, error)

// Route binds a command name to a handler and its dispatch mode.
type Route struct {
	Mode    Mode
	Handler Handler
}

// Routes is the table of commands a Session accepts from its peer.
type Routes map[string]Route

// DefaultTimeout is used by RemoteCommand when the caller passes zero.
const DefaultTimeout = 30 * time.Second

type pendingCall struct {
	result chan callResult
}

type callResult struct {
	args []json.RawMessage
	err  error
}

// Session multiplexes one WebSocket connection's request/response traffic
// and binary blob delivery. One Session exists per connected peer, whether
// that peer is an agent, the controller, or an admin client.
type Session struct {
	conn   *websocket.Conn
	routes Routes
	log    *slog.Logger

	// OnBinary is invoked synchronously from the receive loop for every
	// binary frame, in arrival order, before the next frame (text or
	// binary) is read. This is what lets accept_files bind the kth binary
	// frame to the kth path: the caller owns the pending-path queue and
	// this hook is never reentered concurrently with itself.
	OnBinary func(ctx context.Context, data []byte)

	nextCID atomic.Int64

	mu      sync.Mutex
	pending map[int64]*pendingCall

	writeMu sync.Mutex

	wg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New wraps an established WebSocket connection. routes may be nil or
// partial; unknown commands are answered per spec (error reply for
// requests, logged-and-dropped for fire-and-forget).
func New(conn *websocket.Conn, routes Routes, log *slog.Logger) *Session {
	if routes == nil {
		routes = Routes{}
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Session{
		conn:     conn,
		routes:   routes,
		log:      log,
		pending:  make(map[int64]*pendingCall),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// Serve reads frames until the connection closes or ctx is cancelled. It
// blocks the caller; run it in its own goroutine per session. On return,
// every pending RemoteCommand fails with a connection-closed error and
// every background task has been awaited to completion.
func (s *Session) Serve(ctx context.Context) error {
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return &rpcerr.Transport{Detail: "read", Err: err}
		}

		switch mt {
		case websocket.BinaryMessage:
			if s.OnBinary != nil {
				s.OnBinary(ctx, data)
			}
		case websocket.TextMessage:
			if err := s.handleText(ctx, data); err != nil {
				s.log.Warn("protocol error", "error", err)
			}
		default:
			s.log.Warn("unexpected websocket message type", "type", mt)
		}
	}
}

func (s *Session) teardown() {
	s.bgCancel()
	s.wg.Wait()

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingCall)
	s.mu.Unlock()

	for _, pc := range pending {
		pc.result <- callResult{err: &rpcerr.Transport{Detail: "connection closed"}}
	}
}

// Close closes the underlying connection, which in turn unblocks Serve's
// ReadMessage call and runs teardown.
func (s *Session) Close() error {
	return s.conn.Close()
}

func decodeFrame(data []byte) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("not a JSON array: %w", err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("frame has %d elements, want at least 2", len(raw))
	}
	return raw, nil
}

func (s *Session) handleText(ctx context.Context, data []byte) error {
	raw, err := decodeFrame(data)
	if err != nil {
		return &rpcerr.Protocol{Detail: err.Error()}
	}

	var asBool bool
	if json.Unmarshal(raw[0], &asBool) == nil {
		return s.handleResponse(raw, asBool)
	}

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return &rpcerr.Protocol{Detail: "frame's first element is neither a bool nor a string"}
	}

	var cidPtr *int64
	if err := json.Unmarshal(raw[1], &cidPtr); err != nil {
		return &rpcerr.Protocol{Detail: "frame cid is not null or an integer"}
	}
	args := raw[2:]

	route, ok := s.routes[name]
	if !ok {
		s.log.Warn("unknown command", "name", name)
		if cidPtr != nil {
			if err := s.sendError(*cidPtr, fmt.Sprintf("unknown command %q", name)); err != nil {
				s.log.Warn("failed to send unknown-command reply", "error", err)
			}
		}
		return nil
	}

	switch route.Mode {
	case Immediate:
		s.dispatch(ctx, name, cidPtr, route.Handler, args)
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(s.bgCtx, name, cidPtr, route.Handler, args)
		}()
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, name string, cidPtr *int64, h Handler, args []json.RawMessage) {
	if cidPtr == nil {
		if _, err := h(ctx, args); err != nil {
			s.log.Warn("fire-and-forget handler failed", "command", name, "error", err)
		}
		return
	}

	cid := *cidPtr
	results, err := h(ctx, args)
	if err != nil {
		if sendErr := s.sendError(cid, err.Error()); sendErr != nil {
			s.log.Warn("failed to send error reply", "command", name, "error", sendErr)
		}
		return
	}
	frame := append([]any{true, cid}, results...)
	if err := s.send(frame); err != nil {
		s.log.Warn("failed to send reply", "command", name, "error", err)
	}
}

func (s *Session) handleResponse(raw []json.RawMessage, success bool) error {
	var cid int64
	if err := json.Unmarshal(raw[1], &cid); err != nil {
		return &rpcerr.Protocol{Detail: "response cid is not an integer"}
	}

	s.mu.Lock()
	pc, ok := s.pending[cid]
	if ok {
		delete(s.pending, cid)
	}
	s.mu.Unlock()

	if !ok {
		return &rpcerr.Protocol{Detail: fmt.Sprintf("response for unknown command id %d", cid)}
	}

	args := raw[2:]
	if success {
		pc.result <- callResult{args: args}
		return nil
	}

	var msg string
	if len(args) > 0 {
		_ = json.Unmarshal(args[0], &msg)
	}
	pc.result <- callResult{err: &rpcerr.Command{Message: msg}}
	return nil
}

// RemoteCommand sends a command to the peer. With rsvp=true it blocks for
// the correlated reply (or timeout, default DefaultTimeout); the returned
// slice holds the raw JSON result arguments from a successful reply, or err
// wraps rpcerr.Command on an error reply. With rsvp=false it returns once
// the frame is handed to the transport.
func (s *Session) RemoteCommand(ctx context.Context, name string, args []any, rsvp bool, timeout time.Duration) ([]json.RawMessage, error) {
	if !rsvp {
		return nil, s.send(append([]any{name, nil}, args...))
	}

	cid := s.nextCID.Add(1)
	pc := &pendingCall{result: make(chan callResult, 1)}

	s.mu.Lock()
	s.pending[cid] = pc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, cid)
		s.mu.Unlock()
	}()

	if err := s.send(append([]any{name, cid}, args...)); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	select {
	case res := <-pc.result:
		return res.args, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("remote command %q timed out after %s", name, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) send(frame []any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendError(cid int64, msg string) error {
	return s.send([]any{false, cid, msg})
}

// SendBinary writes a binary frame. Callers must send it immediately after
// the accept_files request naming its path, and in the same order, to
// satisfy the frame-ordering contract.
func (s *Session) SendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// PendingCount returns the number of in-flight RemoteCommand calls; used by
// tests to assert the pending table drains to zero on clean shutdown.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

package server

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/shinyduck/duckchat/pkg/model"
	"github.com/shinyduck/duckchat/pkg/protocol"
)

// ConnectionSession owns one accepted socket. Its worker goroutine runs
// the receive loop, decodes frames, and drives the session state machine:
// connecting -> id_assigned -> authenticating <-> authenticated ->
// disconnected. The peer's worker also writes to this socket (relay and
// broadcasts), so all writes go through a per-session mutex.
type ConnectionSession struct {
	server *Server
	conn   net.Conn
	slot   int

	writeMu sync.Mutex

	mu       sync.Mutex
	username string
	state    model.State
}

func newConnectionSession(srv *Server, conn net.Conn) *ConnectionSession {
	return &ConnectionSession{
		server: srv,
		conn:   conn,
		slot:   -1,
		state:  model.StateConnecting,
	}
}

// Slot returns the session's slot id.
func (cs *ConnectionSession) Slot() int {
	return cs.slot
}

// Username returns the bound username, or "" before authentication.
func (cs *ConnectionSession) Username() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.username
}

// State returns the current lifecycle state.
func (cs *ConnectionSession) State() model.State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

func (cs *ConnectionSession) setState(st model.State) {
	cs.mu.Lock()
	cs.state = st
	cs.mu.Unlock()
}

// send encodes v and writes it as one frame. Safe for concurrent use by
// this session's worker and the peer's.
func (cs *ConnectionSession) send(v any) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	return protocol.WriteFrame(cs.conn, v)
}

// run is the session receive loop. It returns when the stream closes, a
// protocol violation occurs, or the server shuts down; teardown always
// follows.
func (cs *ConnectionSession) run() {
	defer cs.teardown()

	cs.setState(model.StateAuthenticating)

	for {
		payload, err := protocol.ReadFrame(cs.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrViolation) {
				cs.server.metrics.ProtocolViolations.Add(1)
				slog.Error("protocol violation", "slot", cs.slot, "err", err)
			}
			return
		}

		frame, err := protocol.DecodeClientFrame(payload)
		if err != nil {
			cs.server.metrics.ProtocolViolations.Add(1)
			slog.Error("protocol violation", "slot", cs.slot, "err", err)
			return
		}

		cs.dispatch(frame)
		slog.Debug("handled client frame", "slot", cs.slot, "type", frame.Type)
	}
}

// dispatch routes a decoded frame by session state. Authentication
// messages are ignored once authenticated, and chat messages are ignored
// until then; neither is a violation because the type tag is recognized.
func (cs *ConnectionSession) dispatch(frame *protocol.ClientFrame) {
	authed := cs.State() == model.StateAuthenticated

	switch frame.Type {
	case protocol.TypeClientLogin:
		if authed {
			return
		}
		cs.handleLogin(frame.Username, frame.Password)
	case protocol.TypeClientSignup:
		if authed {
			return
		}
		cs.handleSignup(frame.Username, frame.Password)
	case protocol.TypeClientMessage:
		if !authed {
			slog.Warn("chat message before authentication ignored", "slot", cs.slot)
			return
		}
		cs.handleChat(frame.Message)
	}
}

func (cs *ConnectionSession) handleLogin(username, password string) {
	reason, err := cs.server.auth.Login(username, password)
	if err != nil {
		cs.server.metrics.FailedAuths.Add(1)
		slog.Error("login failed", "slot", cs.slot, "user", username, "err", err)
		_ = cs.send(protocol.NewLoginError("internal error"))
		return
	}
	if reason != "" {
		cs.server.metrics.FailedAuths.Add(1)
		slog.Info("login rejected", "slot", cs.slot, "user", username, "reason", reason)
		_ = cs.send(protocol.NewLoginError(reason))
		return
	}

	// Bind before the response write: the online flag is already
	// claimed, and teardown only releases it for a bound username.
	cs.bindUser(username)
	if err := cs.send(protocol.NewLoginError("")); err != nil {
		slog.Error("login response write failed", "slot", cs.slot, "err", err)
		return
	}
	cs.joinChat()
}

func (cs *ConnectionSession) handleSignup(username, password string) {
	reason, err := cs.server.auth.Signup(username, password)
	if err != nil {
		cs.server.metrics.FailedAuths.Add(1)
		slog.Error("signup failed", "slot", cs.slot, "user", username, "err", err)
		_ = cs.send(protocol.NewSignupError("internal error"))
		return
	}
	if reason != "" {
		cs.server.metrics.FailedAuths.Add(1)
		slog.Info("signup rejected", "slot", cs.slot, "user", username, "reason", reason)
		_ = cs.send(protocol.NewSignupError(reason))
		return
	}

	// CreateUser stored the account online; bind before the response
	// write so teardown can release the flag if the write fails.
	cs.bindUser(username)
	if err := cs.send(protocol.NewSignupError("")); err != nil {
		slog.Error("signup response write failed", "slot", cs.slot, "err", err)
		return
	}
	cs.joinChat()
}

// bindUser makes the session authenticated as username. It must run as
// soon as the account's online flag is claimed, before any further I/O,
// so teardown always knows which user to mark offline.
func (cs *ConnectionSession) bindUser(username string) {
	cs.mu.Lock()
	cs.username = username
	cs.state = model.StateAuthenticated
	cs.mu.Unlock()

	cs.server.metrics.SuccessfulAuths.Add(1)
	slog.Info("client authenticated", "slot", cs.slot, "user", username)
}

// joinChat runs the join side effects: if the peer slot is occupied the
// new session receives the buffered history and both sides learn each
// other's username, then everyone gets the join notice.
func (cs *ConnectionSession) joinChat() {
	username := cs.Username()

	if peer := cs.server.slots.Peer(cs.slot); peer != nil {
		if err := cs.server.relay.FlushHistory(cs); err != nil {
			slog.Error("history flush failed", "slot", cs.slot, "err", err)
		}
		cs.server.relay.ExchangeUsernames(cs, peer)
	}

	if err := cs.server.relay.BroadcastSystem(username + " joined the chat"); err != nil {
		slog.Error("join notice failed", "slot", cs.slot, "err", err)
	}
}

func (cs *ConnectionSession) handleChat(text string) {
	text = sanitizeText(strings.TrimSpace(text))
	if text == "" || utf8.RuneCountInString(text) > model.MessageMaxContentLength {
		return // empty or too long, silently drop
	}
	if err := cs.server.relay.RelayChat(cs, text); err != nil {
		slog.Error("relay failed", "slot", cs.slot, "err", err)
	}
}

// teardown is the terminal transition. It releases the slot, marks the
// bound user offline, notifies the remaining occupant, closes the
// socket, and stops the server once both slots are empty. Idempotent.
func (cs *ConnectionSession) teardown() {
	cs.mu.Lock()
	if cs.state == model.StateDisconnected {
		cs.mu.Unlock()
		return
	}
	cs.state = model.StateDisconnected
	username := cs.username
	cs.mu.Unlock()

	cs.server.slots.Release(cs.slot)

	if username != "" {
		if err := cs.server.store.SetOnline(username, false); err != nil {
			slog.Error("mark offline failed", "user", username, "err", err)
		}
		if err := cs.server.relay.BroadcastSystem(username + " left the chat"); err != nil {
			slog.Error("leave notice failed", "user", username, "err", err)
		}
	}

	_ = cs.conn.Close()
	cs.server.metrics.ActiveConnections.Add(-1)
	cs.server.metrics.TotalDisconnects.Add(1)
	slog.Info("client disconnected", "slot", cs.slot, "user", username)

	cs.server.onSessionClosed()
}

// sanitizeText strips control characters (except newline) from
// user-supplied text to prevent terminal escape injection and null-byte
// attacks.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars
		}
		return r
	}, s)
}

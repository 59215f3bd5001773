// Package protocol defines the length-prefixed JSON message framing used
// between the chat clients and the relay server.
//
// Wire format: [4-byte big-endian unsigned length][UTF-8 JSON payload].
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the byte size of the frame length prefix.
	HeaderSize = 4

	// MaxFrameSize caps a single frame payload to bound memory use.
	MaxFrameSize = 1 << 20
)

var (
	// ErrStreamClosed is returned when the peer closes the stream (or the
	// stream errors) before a complete frame is read. No partial frame is
	// ever handed to the caller.
	ErrStreamClosed = errors.New("protocol: stream closed")

	// ErrViolation is returned for frames that arrive intact but are not
	// valid protocol: malformed JSON, a non-object payload, a missing or
	// unrecognized type tag, or an oversized length prefix. Sessions must
	// terminate on it.
	ErrViolation = errors.New("protocol: violation")
)

// Type is the message discriminator carried in every frame.
type Type string

// The closed set of wire message types. Anything else is a violation.
const (
	TypeClientLogin   Type = "client_login"
	TypeClientSignup  Type = "client_signup"
	TypeClientMessage Type = "client_message"

	TypeServerAssignID          Type = "server_assign_id"
	TypeServerLoginError        Type = "server_login_error"
	TypeServerSignupError       Type = "server_signup_error"
	TypeServerExchangeUsernames Type = "server_exchange_usernames"
	TypeServerMessage           Type = "server_message"
	TypeServerMessages          Type = "server_messages"
)

// WriteFrame serializes v as JSON and writes it to w with the 4-byte
// big-endian length prefix.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("protocol: frame too large: %d bytes", len(data))
	}

	buf := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(data))) //nolint:gosec // length bounds-checked above
	copy(buf[HeaderSize:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one complete frame payload from r. Both the header and
// payload reads block until the exact byte count arrives; a short read on
// either returns ErrStreamClosed. A declared length above MaxFrameSize
// returns ErrViolation.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, ErrStreamClosed
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared frame length %d exceeds limit", ErrViolation, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrStreamClosed
	}
	return payload, nil
}

// ClientFrame is a decoded client-to-server message. Which fields are
// meaningful depends on Type.
type ClientFrame struct {
	Type     Type
	Username string // client_login, client_signup
	Password string // client_login, client_signup
	Message  string // client_message
}

// DecodeClientFrame parses a frame payload into a typed client message.
// The payload must be a JSON object carrying a recognized "type" tag;
// anything else returns ErrViolation.
func DecodeClientFrame(payload []byte) (*ClientFrame, error) {
	var env struct {
		Type     *Type  `json:"type"`
		Username string `json:"username"`
		Password string `json:"password"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrViolation, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type tag", ErrViolation)
	}

	switch *env.Type {
	case TypeClientLogin, TypeClientSignup, TypeClientMessage:
		return &ClientFrame{
			Type:     *env.Type,
			Username: env.Username,
			Password: env.Password,
			Message:  env.Message,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrViolation, *env.Type)
	}
}

// ChatPayload is the message shape carried by server_message and
// server_messages frames.
type ChatPayload struct {
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// AssignID tells a freshly connected client which slot it occupies.
type AssignID struct {
	Type Type `json:"type"`
	ID   int  `json:"id"`
}

// LoginError reports the outcome of a login attempt. An empty Error
// string means success.
type LoginError struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

// SignupError reports the outcome of a signup attempt. An empty Error
// string means success.
type SignupError struct {
	Type  Type   `json:"type"`
	Error string `json:"error"`
}

// ExchangeUsernames carries the peer's username to a client.
type ExchangeUsernames struct {
	Type     Type   `json:"type"`
	Username string `json:"username"`
}

// ServerMessage forwards a single chat message or system notice.
type ServerMessage struct {
	Type    Type        `json:"type"`
	Message ChatPayload `json:"message"`
}

// ServerMessages delivers buffered history as one ordered batch.
type ServerMessages struct {
	Type     Type          `json:"type"`
	Messages []ChatPayload `json:"messages"`
}

func NewAssignID(id int) AssignID {
	return AssignID{Type: TypeServerAssignID, ID: id}
}

func NewLoginError(reason string) LoginError {
	return LoginError{Type: TypeServerLoginError, Error: reason}
}

func NewSignupError(reason string) SignupError {
	return SignupError{Type: TypeServerSignupError, Error: reason}
}

func NewExchangeUsernames(username string) ExchangeUsernames {
	return ExchangeUsernames{Type: TypeServerExchangeUsernames, Username: username}
}

func NewServerMessage(msg ChatPayload) ServerMessage {
	return ServerMessage{Type: TypeServerMessage, Message: msg}
}

func NewServerMessages(msgs []ChatPayload) ServerMessages {
	return ServerMessages{Type: TypeServerMessages, Messages: msgs}
}

func NewClientLogin(username, password string) map[string]string {
	return map[string]string{"type": string(TypeClientLogin), "username": username, "password": password}
}

func NewClientSignup(username, password string) map[string]string {
	return map[string]string{"type": string(TypeClientSignup), "username": username, "password": password}
}

func NewClientMessage(message string) map[string]string {
	return map[string]string{"type": string(TypeClientMessage), "message": message}
}

// ServerFrame is a decoded server-to-client message, used by clients.
type ServerFrame struct {
	Type     Type
	ID       int           // server_assign_id
	Error    string        // server_login_error, server_signup_error
	Username string        // server_exchange_usernames
	Message  ChatPayload   // server_message
	Messages []ChatPayload // server_messages
}

// DecodeServerFrame parses a frame payload into a typed server message.
func DecodeServerFrame(payload []byte) (*ServerFrame, error) {
	var env struct {
		Type     *Type         `json:"type"`
		ID       int           `json:"id"`
		Error    string        `json:"error"`
		Username string        `json:"username"`
		Message  ChatPayload   `json:"message"`
		Messages []ChatPayload `json:"messages"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrViolation, err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type tag", ErrViolation)
	}

	switch *env.Type {
	case TypeServerAssignID, TypeServerLoginError, TypeServerSignupError,
		TypeServerExchangeUsernames, TypeServerMessage, TypeServerMessages:
		return &ServerFrame{
			Type:     *env.Type,
			ID:       env.ID,
			Error:    env.Error,
			Username: env.Username,
			Message:  env.Message,
			Messages: env.Messages,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized type %q", ErrViolation, *env.Type)
	}
}

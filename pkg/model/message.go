package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxContentLength = 1000

var ErrMessageContentTooLong = fmt.Errorf("message content exceeds %d characters", MessageMaxContentLength)
var ErrMessageContentEmpty = errors.New("message content cannot be empty")
var ErrMessageInvalidRole = errors.New("message role must be client or server")

// Message is a persisted chat message or system notice. Messages are
// append-only: the server buffers client messages here while the peer
// slot is empty and replays them in insertion order on history flush.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Username  string    `json:"username,omitempty"` // empty for server notices
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Message) Validate() error {
	if !m.Role.Valid() {
		return ErrMessageInvalidRole
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrMessageContentEmpty
	}
	if utf8.RuneCountInString(m.Content) > MessageMaxContentLength {
		return ErrMessageContentTooLong
	}
	return nil
}

package datastore

import (
	"errors"

	"github.com/shinyduck/duckchat/pkg/model"
)

// ErrDuplicateUsername is returned by CreateUser when the username is
// already taken. The store's unique constraint is the source of truth,
// so two racing signups cannot both succeed.
var ErrDuplicateUsername = errors.New("datastore: username already exists")

// DataStore defines the persistence interface consumed by the relay
// engine. Implementations include the default SQLite store and an
// in-memory store for tests.
type DataStore interface {
	UserReadProvider
	UserWriteProvider

	MessageReadProvider
	MessageWriteProvider

	// Close closes the underlying storage connection.
	Close() error
}

// Compile-time checks: both implementations satisfy DataStore.
var _ DataStore = (*Store)(nil)
var _ DataStore = (*MemoryStore)(nil)

type UserReadProvider interface {
	// GetUserByUsername retrieves a user by username. Returns (nil, nil)
	// if not found.
	GetUserByUsername(username string) (*model.User, error)

	// GetUserByCredentials retrieves the user whose username matches and
	// whose stored hash verifies against password. Returns (nil, nil) if
	// either check fails.
	GetUserByCredentials(username, password string) (*model.User, error)

	// ListUsers returns all users.
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	// CreateUser creates a user with the given password hash, online,
	// and returns it with the assigned ID. Returns ErrDuplicateUsername
	// if the name is taken.
	CreateUser(username, passwordHash string) (*model.User, error)

	// SetOnline sets a user's online flag unconditionally.
	SetOnline(username string, online bool) error

	// MarkOnline atomically flips a user's online flag from false to
	// true. It reports whether this call claimed the flag; false means
	// the user was already online (or does not exist).
	MarkOnline(username string) (bool, error)
}

type MessageReadProvider interface {
	// ListMessages returns all messages in insertion order.
	ListMessages() ([]model.Message, error)
}

type MessageWriteProvider interface {
	// AppendMessage stores a message and fills in its ID and timestamp.
	// Messages are append-only; nothing ever mutates or deletes them.
	AppendMessage(msg *model.Message) error
}

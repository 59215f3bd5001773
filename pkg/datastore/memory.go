package datastore

import (
	"fmt"
	"sync"
	"time"

	"github.com/shinyduck/duckchat/pkg/crypto"
	"github.com/shinyduck/duckchat/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors the SQLite store's validation and error behavior.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID    int64
	nextMessageID int64

	usersByUsername map[string]*model.User
	messages        []model.Message
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		nextMessageID:   1,
		usersByUsername: make(map[string]*model.User),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateUser creates a new user and returns it with the assigned ID.
func (s *MemoryStore) CreateUser(username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, ErrDuplicateUsername
	}
	user := &model.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		Online:       true,
		CreatedAt:    s.now().UTC(),
	}
	s.nextUserID++
	s.usersByUsername[username] = user

	clone := *user
	return &clone, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) if
// not found.
func (s *MemoryStore) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	clone := *user
	return &clone, nil
}

// GetUserByCredentials retrieves the user matching both username and
// password.
func (s *MemoryStore) GetUserByCredentials(username, password string) (*model.User, error) {
	u, err := s.GetUserByUsername(username)
	if err != nil || u == nil {
		return nil, err
	}
	if !crypto.VerifyPassword(password, u.PasswordHash) {
		return nil, nil
	}
	return u, nil
}

// SetOnline sets a user's online flag unconditionally.
func (s *MemoryStore) SetOnline(username string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.usersByUsername[username]; ok {
		user.Online = online
	}
	return nil
}

// MarkOnline atomically claims a user's online flag.
func (s *MemoryStore) MarkOnline(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok || user.Online {
		return false, nil
	}
	user.Online = true
	return true, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, *u)
	}
	for i := 1; i < len(users); i++ {
		for j := i; j > 0 && users[j-1].ID > users[j].ID; j-- {
			users[j-1], users[j] = users[j], users[j-1]
		}
	}
	return users, nil
}

// AppendMessage stores a message and fills in its assigned ID.
func (s *MemoryStore) AppendMessage(msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.nextMessageID
	msg.CreatedAt = s.now().UTC()
	s.nextMessageID++
	s.messages = append(s.messages, *msg)
	return nil
}

// ListMessages returns all messages in insertion order.
func (s *MemoryStore) ListMessages() ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

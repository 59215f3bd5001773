package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shinyduck/duckchat/pkg/crypto"
	"github.com/shinyduck/duckchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store provides SQLite-backed persistence for users and messages.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT    NOT NULL,
		online        INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		role       TEXT    NOT NULL CHECK(role IN ('client', 'server')),
		username   TEXT    NOT NULL DEFAULT '',
		content    TEXT    NOT NULL,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate: %w", err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// CreateUser creates a new user and returns it with the assigned ID.
// The user starts online: signup only happens on a live session.
func (s *Store) CreateUser(username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash, online) VALUES (?, ?, 1)",
		username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Online:       true,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var onlineInt int
	var createdAt string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT id, username, password_hash, online, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &onlineInt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.Online = onlineInt != 0
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// GetUserByCredentials retrieves the user matching both username and
// password. Password verification happens here against the stored
// bcrypt hash, so callers never see the hash comparison.
func (s *Store) GetUserByCredentials(username, password string) (*model.User, error) {
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
func (s *Store) SetOnline(username string, online bool) error {
	onlineInt := 0
	if online {
		onlineInt = 1
	}
	_, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET online = ? WHERE username = ?", onlineInt, username)
	if err != nil {
		return fmt.Errorf("datastore: set online: %w", err)
	}
	return nil
}

// MarkOnline atomically claims a user's online flag. The conditional
// UPDATE makes the check-then-set a single statement, so two workers
// logging in the same account concurrently cannot both claim it.
func (s *Store) MarkOnline(username string) (bool, error) {
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET online = 1 WHERE username = ? AND online = 0", username)
	if err != nil {
		return false, fmt.Errorf("datastore: mark online: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: mark online: %w", err)
	}
	return n > 0, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, username, password_hash, online, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var onlineInt int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &onlineInt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.Online = onlineInt != 0
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---- Messages ----

// AppendMessage stores a message and fills in its assigned ID.
func (s *Store) AppendMessage(msg *model.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}
	res, err := s.db.ExecContext(context.Background(),
		"INSERT INTO messages (role, username, content) VALUES (?, ?, ?)",
		string(msg.Role), msg.Username, msg.Content)
	if err != nil {
		return fmt.Errorf("datastore: append message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	msg.CreatedAt = time.Now().UTC()
	return nil
}

// ListMessages returns all messages in insertion order. The AUTOINCREMENT
// id preserves timestamp order even when two messages land in the same
// second.
func (s *Store) ListMessages() ([]model.Message, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT id, role, username, content, created_at FROM messages ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var role string
		var createdAt string
		if err := rows.Scan(&m.ID, &role, &m.Username, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.Role = model.Role(role)
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.CreatedAt = parsed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

package datastore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shinyduck/duckchat/pkg/crypto"
	"github.com/shinyduck/duckchat/pkg/model"
)

// Every behavior test runs against both implementations so the memory
// store stays an honest stand-in for SQLite in the server tests.
func backends(t *testing.T) map[string]func(t *testing.T) DataStore {
	t.Helper()
	return map[string]func(t *testing.T) DataStore{
		"sqlite": func(t *testing.T) DataStore {
			t.Helper()
			s, err := New(filepath.Join(t.TempDir(), "test.db"))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T) DataStore {
			return NewMemory()
		},
	}
}

func TestCreateAndGetUser(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			created, err := s.CreateUser("alice", "hash-a")
			if err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if created.ID == 0 {
				t.Error("created user must have an assigned ID")
			}
			if !created.Online {
				t.Error("signup must bring the user online")
			}

			got, err := s.GetUserByUsername("alice")
			if err != nil {
				t.Fatalf("GetUserByUsername: %v", err)
			}
			if got == nil {
				t.Fatal("GetUserByUsername: user not found")
			}
			if got.Username != "alice" || got.PasswordHash != "hash-a" || !got.Online {
				t.Errorf("stored user mismatch: %+v", got)
			}
		})
	}
}

func TestGetUserByUsernameMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			got, err := s.GetUserByUsername("nobody")
			if err != nil {
				t.Fatalf("GetUserByUsername: %v", err)
			}
			if got != nil {
				t.Errorf("missing user must yield nil, got %+v", got)
			}
		})
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			if _, err := s.CreateUser("alice", "hash-a"); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			_, err := s.CreateUser("alice", "hash-b")
			if !errors.Is(err, ErrDuplicateUsername) {
				t.Errorf("duplicate CreateUser: want ErrDuplicateUsername, got %v", err)
			}

			users, err := s.ListUsers()
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			if len(users) != 1 {
				t.Errorf("want exactly 1 user after duplicate signup, got %d", len(users))
			}
		})
	}
}

func TestCreateUserInvalidUsername(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			_, err := s.CreateUser("no spaces allowed", "hash")
			if err == nil {
				t.Fatal("invalid username must be rejected")
			}
			if errors.Is(err, ErrDuplicateUsername) {
				t.Error("validation failure must not report a duplicate")
			}
		})
	}
}

func TestGetUserByCredentials(t *testing.T) {
	hash, err := crypto.HashPassword("pw1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if _, err := s.CreateUser("alice", hash); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}

			got, err := s.GetUserByCredentials("alice", "pw1")
			if err != nil {
				t.Fatalf("GetUserByCredentials: %v", err)
			}
			if got == nil || got.Username != "alice" {
				t.Errorf("correct credentials must match, got %+v", got)
			}

			got, err = s.GetUserByCredentials("alice", "wrong")
			if err != nil || got != nil {
				t.Errorf("wrong password must yield (nil, nil), got (%+v, %v)", got, err)
			}

			got, err = s.GetUserByCredentials("nobody", "pw1")
			if err != nil || got != nil {
				t.Errorf("unknown user must yield (nil, nil), got (%+v, %v)", got, err)
			}
		})
	}
}

func TestMarkOnlineClaimsOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if _, err := s.CreateUser("alice", "hash"); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if err := s.SetOnline("alice", false); err != nil {
				t.Fatalf("SetOnline: %v", err)
			}

			claimed, err := s.MarkOnline("alice")
			if err != nil {
				t.Fatalf("MarkOnline: %v", err)
			}
			if !claimed {
				t.Error("first MarkOnline must claim the flag")
			}

			claimed, err = s.MarkOnline("alice")
			if err != nil {
				t.Fatalf("MarkOnline: %v", err)
			}
			if claimed {
				t.Error("second MarkOnline must not claim an already-online user")
			}

			claimed, err = s.MarkOnline("nobody")
			if err != nil {
				t.Fatalf("MarkOnline: %v", err)
			}
			if claimed {
				t.Error("MarkOnline must not claim a missing user")
			}
		})
	}
}

func TestSetOnline(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if _, err := s.CreateUser("alice", "hash"); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}

			if err := s.SetOnline("alice", false); err != nil {
				t.Fatalf("SetOnline: %v", err)
			}
			u, err := s.GetUserByUsername("alice")
			if err != nil {
				t.Fatalf("GetUserByUsername: %v", err)
			}
			if u.Online {
				t.Error("user must be offline after SetOnline(false)")
			}

			// Unknown users are a no-op, not an error.
			if err := s.SetOnline("nobody", true); err != nil {
				t.Errorf("SetOnline on missing user: %v", err)
			}
		})
	}
}

func TestListUsersOrder(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			for _, u := range []string{"carol", "alice", "bob"} {
				if _, err := s.CreateUser(u, "hash"); err != nil {
					t.Fatalf("CreateUser(%s): %v", u, err)
				}
			}

			users, err := s.ListUsers()
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			got := make([]string, len(users))
			for i, u := range users {
				got[i] = u.Username
			}
			want := []string{"carol", "alice", "bob"} // creation order, by ID
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("user order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAppendAndListMessages(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			msgs := []*model.Message{
				{Role: model.RoleServer, Content: "alice joined the chat"},
				{Role: model.RoleClient, Username: "alice", Content: "anyone there?"},
				{Role: model.RoleClient, Username: "alice", Content: "hello?"},
			}
			for _, m := range msgs {
				if err := s.AppendMessage(m); err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
				if m.ID == 0 {
					t.Error("AppendMessage must assign an ID")
				}
			}

			got, err := s.ListMessages()
			if err != nil {
				t.Fatalf("ListMessages: %v", err)
			}
			if len(got) != len(msgs) {
				t.Fatalf("want %d messages, got %d", len(msgs), len(got))
			}
			for i := range got {
				if got[i].Content != msgs[i].Content {
					t.Errorf("message %d out of order: got %q, want %q", i, got[i].Content, msgs[i].Content)
				}
				if i > 0 && got[i].ID <= got[i-1].ID {
					t.Errorf("message IDs must be strictly increasing: %d then %d", got[i-1].ID, got[i].ID)
				}
			}
		})
	}
}

func TestAppendMessageInvalid(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			bad := []*model.Message{
				{Role: "admin", Content: "hi"},
				{Role: model.RoleClient, Content: ""},
			}
			for _, m := range bad {
				if err := s.AppendMessage(m); err == nil {
					t.Errorf("AppendMessage(%+v) must fail validation", m)
				}
			}

			got, err := s.ListMessages()
			if err != nil {
				t.Fatalf("ListMessages: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("rejected messages must not be stored, got %d", len(got))
			}
		})
	}
}

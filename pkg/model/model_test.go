package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		name    string
		wantErr error
	}{
		"simple":        {name: "alice"},
		"mixed_case":    {name: "Alice99"},
		"underscore":    {name: "the_quiet_one"},
		"hyphen":        {name: "shiny-duck"},
		"max_length":    {name: strings.Repeat("a", MaxUsernameLength)},
		"empty":         {name: "", wantErr: ErrUsernameEmpty},
		"too_long":      {name: strings.Repeat("a", MaxUsernameLength+1), wantErr: ErrUsernameTooLong},
		"space":         {name: "alice smith", wantErr: ErrUsernameInvalidChars},
		"punctuation":   {name: "alice!", wantErr: ErrUsernameInvalidChars},
		"unicode":       {name: "ålice", wantErr: ErrUsernameInvalidChars},
		"control_chars": {name: "alice\x00", wantErr: ErrUsernameInvalidChars},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			err := ValidateUsername(tc.name)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tc.name, err, tc.wantErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		msg     Message
		wantErr error
	}{
		"client_message": {
			msg: Message{Role: RoleClient, Username: "alice", Content: "hi"},
		},
		"server_notice": {
			msg: Message{Role: RoleServer, Content: "alice joined the chat"},
		},
		"max_length": {
			msg: Message{Role: RoleClient, Username: "alice", Content: strings.Repeat("x", MessageMaxContentLength)},
		},
		"bad_role": {
			msg:     Message{Role: "admin", Content: "hi"},
			wantErr: ErrMessageInvalidRole,
		},
		"empty_content": {
			msg:     Message{Role: RoleClient, Content: ""},
			wantErr: ErrMessageContentEmpty,
		},
		"whitespace_content": {
			msg:     Message{Role: RoleClient, Content: "   "},
			wantErr: ErrMessageContentEmpty,
		},
		"too_long": {
			msg:     Message{Role: RoleClient, Content: strings.Repeat("x", MessageMaxContentLength+1)},
			wantErr: ErrMessageContentTooLong,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			err := tc.msg.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	if !RoleClient.Valid() || !RoleServer.Valid() {
		t.Error("known roles must be valid")
	}
	if Role("admin").Valid() || Role("").Valid() {
		t.Error("unknown roles must be invalid")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tcases := map[State]string{
		StateConnecting:     "connecting",
		StateIDAssigned:     "id_assigned",
		StateAuthenticating: "authenticating",
		StateAuthenticated:  "authenticated",
		StateDisconnected:   "disconnected",
		State(99):           "unknown",
	}
	for st, want := range tcases {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", st, got, want)
		}
	}
}

package server

import (
	"errors"

	"github.com/shinyduck/duckchat/pkg/crypto"
	"github.com/shinyduck/duckchat/pkg/datastore"
	"github.com/shinyduck/duckchat/pkg/model"
)

// Rejection reasons reported to clients as inline error text. The exact
// strings are part of the wire contract with existing clients.
const (
	reasonCredentialsRequired = "Username and password are required"
	reasonBadCredentials      = "Incorrect username or password"
	reasonAlreadyOnline       = "User is already online"
	reasonUsernameTaken       = "Username must be unique"
)

// AuthService validates login and signup requests against the store and
// owns the online-status invariant: at most one live session per account.
type AuthService struct {
	store datastore.DataStore
}

// NewAuthService creates an AuthService backed by the given store.
func NewAuthService(store datastore.DataStore) *AuthService {
	return &AuthService{store: store}
}

// Login validates credentials and claims the account's online flag.
// A non-empty reason means the request was rejected and the client may
// retry; a non-nil error means the store failed and the operation is
// abandoned.
func (a *AuthService) Login(username, password string) (string, error) {
	if username == "" || password == "" {
		return reasonCredentialsRequired, nil
	}

	user, err := a.store.GetUserByCredentials(username, password)
	if err != nil {
		return "", err
	}
	if user == nil {
		return reasonBadCredentials, nil
	}

	// Claiming online atomically rejects a second concurrent login for
	// the same account.
	claimed, err := a.store.MarkOnline(username)
	if err != nil {
		return "", err
	}
	if !claimed {
		return reasonAlreadyOnline, nil
	}
	return "", nil
}

// Signup creates a new account with a salted bcrypt hash and brings it
// online. Uniqueness is enforced by the store's constraint, so two
// racing signups for the same name cannot both succeed.
func (a *AuthService) Signup(username, password string) (string, error) {
	if username == "" || password == "" {
		return reasonCredentialsRequired, nil
	}
	if err := model.ValidateUsername(username); err != nil {
		return err.Error(), nil
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return "", err
	}

	if _, err := a.store.CreateUser(username, hash); err != nil {
		if errors.Is(err, datastore.ErrDuplicateUsername) {
			return reasonUsernameTaken, nil
		}
		return "", err
	}
	return "", nil
}

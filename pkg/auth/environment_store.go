package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements SessionStore using environment variables.
// This is primarily for scripted and CI use.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based session store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

// Retrieve gets a session from environment variables
func (e *EnvironmentStore) Retrieve(handle string) (*Session, error) {
	cookie := os.Getenv("TWDL_COOKIE")
	userAgent := os.Getenv("TWDL_USER_AGENT")

	if cookie == "" {
		return nil, ErrSessionNotFound
	}

	// Environment variables don't carry a handle, so fall back to
	// "default" when none was asked for.
	if handle == "" {
		handle = "default"
	}

	return &Session{
		Handle:       handle,
		Cookie:       cookie,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}, nil
}

// List returns a single session if environment variables are set
func (e *EnvironmentStore) List() ([]*Session, error) {
	session, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	return []*Session{session}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(handle string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment session exists
func (e *EnvironmentStore) Exists(handle string) bool {
	return os.Getenv("TWDL_COOKIE") != ""
}

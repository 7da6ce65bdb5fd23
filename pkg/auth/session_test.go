package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readFileT(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestManagerStore(t *testing.T) {
	manager, store := NewMockManager()

	session := &Session{Handle: "someone", Cookie: "auth_token=abc123"}
	if err := manager.Store(session); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("expected 1 stored session, got %d", store.Count())
	}
	if session.LastModified.IsZero() {
		t.Error("Store should stamp LastModified")
	}

	stored, err := store.GetSession("someone")
	if err != nil {
		t.Fatalf("session missing from store: %v", err)
	}
	if stored.Cookie != "auth_token=abc123" {
		t.Errorf("unexpected stored cookie: %q", stored.Cookie)
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	if err := manager.Store(&Session{Cookie: "auth_token=x"}); err == nil {
		t.Error("Store should require a handle")
	}
	if err := manager.Store(&Session{Handle: "someone"}); err == nil {
		t.Error("Store should require a cookie")
	}
}

func TestManagerStoreFallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keychain locked")
	working := NewMockStore()
	manager := NewMockManagerWithStores(broken, working)

	if err := manager.Store(&Session{Handle: "someone", Cookie: "auth_token=x"}); err != nil {
		t.Fatalf("Store should fall through to the next backend: %v", err)
	}
	if working.Count() != 1 {
		t.Errorf("fallback store should hold the session, got %d", working.Count())
	}
}

func TestManagerRetrieveAcrossStores(t *testing.T) {
	first := NewMockStore()
	first.RetrieveError = ErrSessionNotFound
	second := NewMockStore()
	_ = second.Store(&Session{Handle: "someone", Cookie: "auth_token=x", LastModified: time.Now()})
	manager := NewMockManagerWithStores(first, second)

	session, err := manager.Retrieve("someone")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if session.Handle != "someone" {
		t.Errorf("unexpected session: %+v", session)
	}

	if _, err := manager.Retrieve("nobody"); err == nil {
		t.Error("Retrieve should fail for an unknown handle")
	}
}

func TestManagerRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv("TWDL_COOKIE", "auth_token=from-env")
	t.Setenv("TWDL_USER_AGENT", "env-agent/1.0")

	stored := NewMockStore()
	_ = stored.Store(&Session{Handle: "someone", Cookie: "auth_token=stored", LastModified: time.Now()})
	manager := NewMockManagerWithStores(stored, NewEnvironmentStore())

	session, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if session.Cookie != "auth_token=from-env" {
		t.Errorf("environment session should win, got cookie %q", session.Cookie)
	}
	if session.Handle != "default" {
		t.Errorf("environment session should use the default handle, got %q", session.Handle)
	}
	if session.UserAgent != "env-agent/1.0" {
		t.Errorf("unexpected user agent: %q", session.UserAgent)
	}
}

func TestManagerRetrieveDefaultFallsBackToStored(t *testing.T) {
	t.Setenv("TWDL_COOKIE", "")

	stored := NewMockStore()
	_ = stored.Store(&Session{Handle: "someone", Cookie: "auth_token=stored", LastModified: time.Now()})
	manager := NewMockManagerWithStores(stored, NewEnvironmentStore())

	session, err := manager.RetrieveDefault()
	if err != nil {
		t.Fatalf("RetrieveDefault failed: %v", err)
	}
	if session.Cookie != "auth_token=stored" {
		t.Errorf("expected the stored session, got cookie %q", session.Cookie)
	}
}

func TestManagerListDedupesByRecency(t *testing.T) {
	older := NewMockStore()
	_ = older.Store(&Session{Handle: "someone", Cookie: "auth_token=old", LastModified: time.Now().Add(-time.Hour)})
	newer := NewMockStore()
	_ = newer.Store(&Session{Handle: "someone", Cookie: "auth_token=new", LastModified: time.Now()})
	_ = newer.Store(&Session{Handle: "other", Cookie: "auth_token=x", LastModified: time.Now()})
	manager := NewMockManagerWithStores(older, newer)

	sessions, err := manager.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 deduped sessions, got %d", len(sessions))
	}
	for _, session := range sessions {
		if session.Handle == "someone" && session.Cookie != "auth_token=new" {
			t.Errorf("List should keep the most recent version, got %q", session.Cookie)
		}
	}
}

func TestManagerDelete(t *testing.T) {
	manager, store := NewMockManager()
	_ = manager.Store(&Session{Handle: "someone", Cookie: "auth_token=x"})

	if err := manager.Delete("someone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store after delete, got %d", store.Count())
	}
	if err := manager.Delete("someone"); err == nil {
		t.Error("deleting a missing session should fail")
	}
}

func TestManagerDeleteAll(t *testing.T) {
	manager, store := NewMockManager()
	_ = manager.Store(&Session{Handle: "a", Cookie: "auth_token=1"})
	_ = manager.Store(&Session{Handle: "b", Cookie: "auth_token=2"})

	if err := manager.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store, got %d", store.Count())
	}
}

func TestSanitizeSession(t *testing.T) {
	session := &Session{
		Handle: "someone",
		Cookie: "auth_token=abcdef0123456789",
	}

	sanitized := SanitizeSession(session)
	if sanitized.Cookie == session.Cookie {
		t.Error("sanitized cookie must not equal the original")
	}
	if !strings.HasPrefix(sanitized.Cookie, "auth") || !strings.HasSuffix(sanitized.Cookie, "6789") {
		t.Errorf("expected first4...last4 masking, got %q", sanitized.Cookie)
	}
	if session.Cookie != "auth_token=abcdef0123456789" {
		t.Error("SanitizeSession must not mutate the original")
	}

	short := SanitizeSession(&Session{Handle: "x", Cookie: "tiny"})
	if short.Cookie != "********" {
		t.Errorf("short cookies should be fully masked, got %q", short.Cookie)
	}

	if SanitizeSession(nil) != nil {
		t.Error("nil session should sanitize to nil")
	}
}

func TestValidateCookie(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		valid  bool
	}{
		{"single pair", "auth_token=abc123", true},
		{"multiple pairs", "auth_token=abc; ct0=def; guest_id=xyz", true},
		{"padded", "  auth_token=abc  ", true},
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"no value", "auth_token=", false},
		{"no name", "=abc123", false},
		{"no pairs", "just some text", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateCookie(test.cookie)
			if test.valid && err != nil {
				t.Errorf("ValidateCookie(%q) = %v, want nil", test.cookie, err)
			}
			if !test.valid && err == nil {
				t.Errorf("ValidateCookie(%q) should fail", test.cookie)
			}
		})
	}
}

func TestEnvironmentStoreReadOnly(t *testing.T) {
	store := NewEnvironmentStore()

	if err := store.Store(&Session{Handle: "x", Cookie: "auth_token=1"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("environment store must reject writes, got %v", err)
	}
	if err := store.Delete("x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("environment store must reject deletes, got %v", err)
	}
}

func TestEncryptedFileStoreRoundTrip(t *testing.T) {
	t.Setenv("TWDL_PASSPHRASE", "test-passphrase")
	path := filepath.Join(t.TempDir(), "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("NewEncryptedFileStore failed: %v", err)
	}

	session := &Session{
		Handle:       "someone",
		Cookie:       "auth_token=secret-value",
		UserAgent:    "agent/1.0",
		LastModified: time.Now(),
	}
	if err := store.Store(session); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// A fresh store against the same file must decrypt what the first
	// one wrote.
	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Retrieve("someone")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if got.Cookie != "auth_token=secret-value" {
		t.Errorf("unexpected cookie after round trip: %q", got.Cookie)
	}

	if !reopened.Exists("someone") {
		t.Error("Exists should report the stored handle")
	}
	if reopened.Exists("nobody") {
		t.Error("Exists should not report unknown handles")
	}
}

func TestEncryptedFileStoreNeverStoresPlaintext(t *testing.T) {
	t.Setenv("TWDL_PASSPHRASE", "test-passphrase")
	path := filepath.Join(t.TempDir(), "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("NewEncryptedFileStore failed: %v", err)
	}
	if err := store.Store(&Session{Handle: "someone", Cookie: "auth_token=visible-secret", LastModified: time.Now()}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	data := readFileT(t, path)
	if strings.Contains(data, "visible-secret") {
		t.Error("cookie must not appear in plaintext on disk")
	}
	if strings.Contains(data, "someone") {
		t.Error("handle must not appear in plaintext on disk")
	}
}

func TestEncryptedFileStoreDelete(t *testing.T) {
	t.Setenv("TWDL_PASSPHRASE", "test-passphrase")
	path := filepath.Join(t.TempDir(), "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("NewEncryptedFileStore failed: %v", err)
	}
	_ = store.Store(&Session{Handle: "someone", Cookie: "auth_token=x", LastModified: time.Now()})

	if err := store.Delete("someone"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Exists("someone") {
		t.Error("session should be gone after delete")
	}
	if err := store.Delete("someone"); err == nil {
		t.Error("deleting a missing session should fail")
	}
}

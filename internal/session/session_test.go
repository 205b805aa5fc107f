package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestStatic_Bearer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "opaque", token: "abc123"},
		{name: "valid jwt", token: signedToken(t, now.Add(time.Hour))},
		{name: "expired jwt", token: signedToken(t, now.Add(-time.Minute)), wantErr: ErrExpiredCredential},
		{name: "missing", token: "  ", wantErr: ErrMissingCredential},
		{name: "dotted but not a jwt", token: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatic(tt.token, "key")
			s.now = func() time.Time { return now }

			got, err := s.Bearer()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, got)
		})
	}
}

func TestStatic_ServiceKey(t *testing.T) {
	key, err := NewStatic("t", " k ").ServiceKey()
	require.NoError(t, err)
	assert.Equal(t, "k", key)

	_, err = NewStatic("t", "").ServiceKey()
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestFileCredentials_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	f, err := NewFileCredentials(path, "key", nil)
	require.NoError(t, err)

	tok, err := f.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	require.NoError(t, f.Reload())

	tok, err = f.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}

func TestFileCredentials_MissingFile(t *testing.T) {
	_, err := NewFileCredentials(filepath.Join(t.TempDir(), "nope"), "key", nil)
	assert.Error(t, err)
}

func TestFileCredentials_WatchFollowsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	f, err := NewFileCredentials(path, "key", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Retry the write: the watcher may not be registered yet on the first pass.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("rotated"), 0o600)
		tok, err := f.Bearer()
		return err == nil && tok == "rotated"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileCredentials_WatchFollowsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	f, err := NewFileCredentials(path, "key", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		tmp := filepath.Join(dir, "token.tmp")
		_ = os.WriteFile(tmp, []byte("replaced"), 0o600)
		_ = os.Rename(tmp, path)
		tok, err := f.Bearer()
		return err == nil && tok == "replaced"
	}, 5*time.Second, 20*time.Millisecond)
}

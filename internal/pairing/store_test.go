// ABOUTME: Tests for the SQLite pairing-approval store.
// ABOUTME: Validates idempotent upsert, approval flow, and account isolation.

package pairing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "pairing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code1, created, err := s.Upsert(ctx, "acct", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, code1, 8)

	// A second request before approval returns the same code without a new
	// side effect.
	code2, created, err := s.Upsert(ctx, "acct", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, code1, code2)
}

func TestUpsert_NormalizesSender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, created, err := s.Upsert(ctx, "acct", "@Alice")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = s.Upsert(ctx, "acct", "alice")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestApprove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, _, err := s.Upsert(ctx, "acct", "bob")
	require.NoError(t, err)

	approved, err := s.Approved(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, approved)

	sender, err := s.Approve(ctx, "acct", code)
	require.NoError(t, err)
	assert.Equal(t, "bob", sender)

	approved, err = s.Approved(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, approved)
}

func TestApprove_UnknownCode(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Approve(context.Background(), "acct", "NOPE1234")
	assert.True(t, errors.Is(err, ErrCodeNotFound))
}

func TestAccountsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, _, err := s.Upsert(ctx, "acct-a", "carol")
	require.NoError(t, err)
	_, err = s.Approve(ctx, "acct-a", code)
	require.NoError(t, err)

	// The same sender is independent per account.
	_, created, err := s.Upsert(ctx, "acct-b", "carol")
	require.NoError(t, err)
	assert.True(t, created)

	approved, err := s.Approved(ctx, "acct-b")
	require.NoError(t, err)
	assert.Empty(t, approved)
}

package auth

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Boot())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDigest(t *testing.T) {
	require.Equal(t, Digest("kirk", "enterprise"), Digest("kirk", "enterprise"))
	require.NotEqual(t, Digest("kirk", "enterprise"), Digest("kirk", "Enterprise"))
	// Same password, different name: the digests must still differ.
	require.NotEqual(t, Digest("kirk", "enterprise"), Digest("spock", "enterprise"))
	require.Len(t, Digest("kirk", "enterprise"), 64)
}

func TestNewTokenIsUnique(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	require.Len(t, a, TokenBytes*2)
	require.NotEqual(t, a, b)
}

func TestSessionLifecycle(t *testing.T) {
	st := testStore(t)

	tx, err := st.Begin()
	require.NoError(t, err)
	token, err := CreateSession(tx, 7, time.Hour)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	id, err := Resolve(st.DB, token)
	require.NoError(t, err)
	require.EqualValues(t, 7, id)

	require.NoError(t, Revoke(st.DB, token))
	id, err = Resolve(st.DB, token)
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestResolveTreatsExpiredAsAbsent(t *testing.T) {
	st := testStore(t)

	past := time.Now().Unix() - 10
	_, err := st.DB.Exec(`INSERT INTO sessions (token, player_id, created_at, expires_at) VALUES ('stale', 7, 0, ?)`,
		past)
	require.NoError(t, err)

	id, err := Resolve(st.DB, "stale")
	require.NoError(t, err)
	require.Zero(t, id)

	id, err = Resolve(st.DB, "never-issued")
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestRefreshSwapsTokens(t *testing.T) {
	st := testStore(t)

	tx, err := st.Begin()
	require.NoError(t, err)
	old, err := CreateSession(tx, 3, time.Hour)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	fresh, err := Refresh(st.DB, old, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)
	require.NotEqual(t, old, fresh)

	id, err := Resolve(st.DB, old)
	require.NoError(t, err)
	require.Zero(t, id, "the old token dies on refresh")

	id, err = Resolve(st.DB, fresh)
	require.NoError(t, err)
	require.EqualValues(t, 3, id)

	none, err := Refresh(st.DB, "never-issued", time.Hour)
	require.NoError(t, err)
	require.Empty(t, none)
}

package s2s

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Boot())
	t.Cleanup(func() { st.Close() })

	secret, err := st.S2SSecret("default")
	require.NoError(t, err)
	return New(st, zerolog.Nop()), secret
}

func signedFrame(t *testing.T, secret, typ string, payload map[string]any, idemKey string) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	buf, err := json.Marshal(map[string]any{
		"key_id":   "default",
		"type":     typ,
		"payload":  json.RawMessage(raw),
		"idem_key": idemKey,
		"hmac":     hex.EncodeToString(Sign(secret, typ, raw, idemKey)),
	})
	require.NoError(t, err)
	return buf
}

func TestFrameEnqueuesCommand(t *testing.T) {
	srv, secret := newTestServer(t)

	line := signedFrame(t, secret, "notice.system",
		map[string]any{"body": "maintenance at dawn", "ttl_sec": 3600}, "idem-1")
	r := srv.handleFrame(line, zerolog.Nop())
	require.Equal(t, "ok", r.Status)
	require.Greater(t, r.CmdID, int64(0))
	require.Greater(t, r.DueAt, int64(0))
	require.False(t, r.Duplicate)

	var status, typ string
	require.NoError(t, srv.St.DB.QueryRow(
		`SELECT status, type FROM engine_commands WHERE id = ?`, r.CmdID).Scan(&status, &typ))
	require.Equal(t, "ready", status)
	require.Equal(t, "notice.system", typ)
}

func TestDuplicateIdemKeyAnswersOriginal(t *testing.T) {
	srv, secret := newTestServer(t)

	line := signedFrame(t, secret, "news.publish",
		map[string]any{"headline": "port riots on Rigel", "category": "general", "body": "..."}, "idem-dup")
	first := srv.handleFrame(line, zerolog.Nop())
	require.Equal(t, "ok", first.Status)

	second := srv.handleFrame(line, zerolog.Nop())
	require.Equal(t, "ok", second.Status)
	require.True(t, second.Duplicate)
	require.Equal(t, first.CmdID, second.CmdID)

	var n int64
	require.NoError(t, srv.St.DB.QueryRow(
		`SELECT COUNT(*) FROM engine_commands WHERE idem_key = 'idem-dup'`).Scan(&n))
	require.EqualValues(t, 1, n)
}

func TestBadSignatureRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	line := signedFrame(t, "not-the-secret", "notice.system", map[string]any{"body": "x"}, "idem-bad")
	r := srv.handleFrame(line, zerolog.Nop())
	require.Equal(t, "error", r.Status)
	require.Equal(t, "bad signature", r.Error)
}

func TestUnknownKeyRejected(t *testing.T) {
	srv, secret := newTestServer(t)

	raw := []byte(`{"body":"x"}`)
	line, err := json.Marshal(map[string]any{
		"key_id":   "ghost",
		"type":     "notice.system",
		"payload":  json.RawMessage(raw),
		"idem_key": "idem-ghost",
		"hmac":     hex.EncodeToString(Sign(secret, "notice.system", raw, "idem-ghost")),
	})
	require.NoError(t, err)
	r := srv.handleFrame(line, zerolog.Nop())
	require.Equal(t, "error", r.Status)
	require.Equal(t, "unknown key", r.Error)
}

func TestFrameFieldRequirements(t *testing.T) {
	srv, _ := newTestServer(t)

	r := srv.handleFrame([]byte(`{"key_id":`), zerolog.Nop())
	require.Equal(t, "error", r.Status)
	require.Equal(t, "malformed frame", r.Error)

	r = srv.handleFrame([]byte(`{"key_id":"default","type":"notice.system"}`), zerolog.Nop())
	require.Equal(t, "error", r.Status)
	require.Equal(t, "key_id, type and idem_key are required", r.Error)
}

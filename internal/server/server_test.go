package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/game"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

func newTestServer(t *testing.T) (string, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Boot())
	t.Cleanup(func() { st.Close() })

	cast := bus.NewBroadcaster()
	srv := New(st, game.New(st, cast, zerolog.Nop()), cast, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(srv.Shutdown)
	return ln.Addr().String(), st
}

type wireConn struct {
	conn net.Conn
	rd   *bufio.Reader
}

func dial(t *testing.T, addr string) *wireConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wireConn{conn: conn, rd: bufio.NewReader(conn)}
}

// send writes one raw line and reads one response line. Wire numbers come
// back as float64, which is what the assertions below expect.
func (w *wireConn) send(t *testing.T, line string) map[string]any {
	t.Helper()
	w.conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := w.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	raw, err := w.rd.ReadBytes('\n')
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func (w *wireConn) request(t *testing.T, req map[string]any) map[string]any {
	t.Helper()
	buf, err := json.Marshal(req)
	require.NoError(t, err)
	return w.send(t, string(buf))
}

func errCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	body, ok := resp["error"].(map[string]any)
	require.True(t, ok, "response carries no error body: %v", resp)
	return int(body["code"].(float64))
}

func registerOverWire(t *testing.T, w *wireConn, name string) string {
	t.Helper()
	resp := w.request(t, map[string]any{
		"command": "auth.register",
		"data":    map[string]any{"name": name, "password": "hunter2"},
	})
	require.Equal(t, proto.StatusOK, resp["status"])
	return resp["data"].(map[string]any)["session"].(string)
}

func TestRequestIDComesBack(t *testing.T) {
	addr, _ := newTestServer(t)
	w := dial(t, addr)

	resp := w.request(t, map[string]any{
		"command":    "auth.register",
		"request_id": "req-42",
		"data":       map[string]any{"name": "Kirk", "password": "hunter2"},
	})
	require.Equal(t, proto.StatusOK, resp["status"])
	require.Equal(t, "req-42", resp["request_id"])
	require.NotEmpty(t, resp["data"].(map[string]any)["session"])
}

func TestProtocolErrors(t *testing.T) {
	addr, _ := newTestServer(t)
	w := dial(t, addr)

	resp := w.send(t, `{"command":`)
	require.Equal(t, proto.StatusError, resp["status"])
	require.Equal(t, proto.ErrSerialization, errCode(t, resp))

	resp = w.send(t, `{"data":{}}`)
	require.Equal(t, proto.ErrSerialization, errCode(t, resp))

	resp = w.request(t, map[string]any{"command": "no.such.command"})
	require.Equal(t, proto.StatusError, resp["status"])
	require.Equal(t, proto.ErrUnknownCommand, errCode(t, resp))
}

func TestAuthGate(t *testing.T) {
	addr, _ := newTestServer(t)
	w := dial(t, addr)
	session := registerOverWire(t, w, "Kirk")

	// A fresh connection with no session is refused, not errored: there is
	// nothing wrong with the request, the client just has to log in.
	stranger := dial(t, addr)
	resp := stranger.request(t, map[string]any{"command": "sector.scan"})
	require.Equal(t, proto.StatusRefused, resp["status"])
	require.Equal(t, proto.RefNotAuthenticated, errCode(t, resp))

	// Presenting the session binds the connection to the player.
	resp = stranger.request(t, map[string]any{
		"command": "sector.scan",
		"data":    map[string]any{"session": session},
	})
	require.Equal(t, proto.StatusOK, resp["status"])
	require.EqualValues(t, 1, resp["data"].(map[string]any)["sector_id"])

	// And the binding sticks for later requests on the same connection.
	resp = stranger.request(t, map[string]any{"command": "sector.scan"})
	require.Equal(t, proto.StatusOK, resp["status"])
}

func TestIdempotentReplay(t *testing.T) {
	addr, _ := newTestServer(t)
	w := dial(t, addr)
	registerOverWire(t, w, "Kirk")

	deposit := map[string]any{
		"command":         "bank.deposit",
		"idempotency_key": "dep-1",
		"data":            map[string]any{"amount": 300},
	}
	resp := w.request(t, deposit)
	require.Equal(t, proto.StatusOK, resp["status"])
	require.EqualValues(t, 1300, resp["data"].(map[string]any)["balance"])

	// The retry replays the stored response without moving money again.
	resp = w.request(t, deposit)
	require.Equal(t, proto.StatusOK, resp["status"])
	require.EqualValues(t, 1300, resp["data"].(map[string]any)["balance"])

	resp = w.request(t, map[string]any{"command": "bank.balance"})
	require.EqualValues(t, 1300, resp["data"].(map[string]any)["balance"])

	// Reusing the key for a different request is a conflict.
	resp = w.request(t, map[string]any{
		"command":         "bank.deposit",
		"idempotency_key": "dep-1",
		"data":            map[string]any{"amount": 999},
	})
	require.Equal(t, proto.StatusRefused, resp["status"])
	require.Equal(t, proto.RefConflict, errCode(t, resp))
}

func TestIdempotencyKeepsOnlySuccesses(t *testing.T) {
	addr, st := newTestServer(t)
	w := dial(t, addr)
	registerOverWire(t, w, "Kirk")

	// The opening balance is 1000, so this withdrawal is refused.
	withdraw := map[string]any{
		"command":         "bank.withdraw",
		"idempotency_key": "wd-1",
		"data":            map[string]any{"amount": 1200},
	}
	resp := w.request(t, withdraw)
	require.Equal(t, proto.StatusRefused, resp["status"])
	require.Equal(t, proto.RefInsufficientFunds, errCode(t, resp))

	// The failed attempt must not squat on the key.
	var claims int64
	require.NoError(t, st.DB.QueryRow(`SELECT COUNT(*) FROM idempotency WHERE key = 'wd-1'`).Scan(&claims))
	require.Zero(t, claims)

	resp = w.request(t, map[string]any{
		"command": "bank.deposit",
		"data":    map[string]any{"amount": 500},
	})
	require.Equal(t, proto.StatusOK, resp["status"])

	// Retrying under the same key now that funds exist runs for real.
	resp = w.request(t, withdraw)
	require.Equal(t, proto.StatusOK, resp["status"])
	require.EqualValues(t, 300, resp["data"].(map[string]any)["balance"])

	// And from here on the key replays the success.
	resp = w.request(t, withdraw)
	require.Equal(t, proto.StatusOK, resp["status"])
	require.EqualValues(t, 300, resp["data"].(map[string]any)["balance"])
	resp = w.request(t, map[string]any{"command": "bank.balance"})
	require.EqualValues(t, 300, resp["data"].(map[string]any)["balance"])
}

func TestRateLimitKicksIn(t *testing.T) {
	addr, _ := newTestServer(t)
	w := dial(t, addr)

	// Burst is 20 and refill is 10/s; a fast barrage of 60 must trip it.
	limited := 0
	for i := 0; i < 60; i++ {
		resp := w.request(t, map[string]any{"command": "no.such.command"})
		if resp["status"] == proto.StatusRefused && errCode(t, resp) == proto.RefRateLimited {
			limited++
		}
	}
	require.Greater(t, limited, 0, "the limiter never engaged")
}

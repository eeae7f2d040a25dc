package game

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

func newTestGame(t *testing.T) *Game {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Boot())
	t.Cleanup(func() { st.Close() })
	return New(st, bus.NewBroadcaster(), zerolog.Nop())
}

// call runs one command the way the dispatcher would: refusals returned as
// errors come back as refused envelopes.
func call(t *testing.T, g *Game, c *bus.Client, command string, payload any) *proto.Response {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		buf, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = buf
	}
	cmd, known := g.Lookup(command)
	require.True(t, known, "command %s not registered", command)
	resp, err := cmd.Fn(g, c, &proto.Request{Command: command, Data: raw})
	if err != nil {
		var refusal *proto.Refusal
		require.ErrorAs(t, err, &refusal, "command %s", command)
		return refusal.Envelope()
	}
	require.NotNil(t, resp)
	return resp
}

func register(t *testing.T, g *Game, name string) (*bus.Client, int64) {
	t.Helper()
	c := bus.NewClient(io.Discard, "test")
	resp := call(t, g, c, "auth.register", map[string]any{"name": name, "password": "hunter2"})
	require.Equal(t, proto.StatusOK, resp.Status)
	return c, respData(t, resp)["player_id"].(int64)
}

func respData(t *testing.T, resp *proto.Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "response data is %T", resp.Data)
	return m
}

func requireRefused(t *testing.T, resp *proto.Response, code int) {
	t.Helper()
	require.Equal(t, proto.StatusRefused, resp.Status)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

func exec(t *testing.T, g *Game, query string, args ...any) {
	t.Helper()
	_, err := g.Store.DB.Exec(query, args...)
	require.NoError(t, err)
}

func queryInt(t *testing.T, g *Game, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, g.Store.DB.QueryRow(query, args...).Scan(&n))
	return n
}

func TestRegisterOutfitsHalfTheHolds(t *testing.T) {
	g := newTestGame(t)

	c := bus.NewClient(io.Discard, "test")
	resp := call(t, g, c, "auth.register", map[string]any{"name": "Kirk", "password": "enterprise"})
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.NotEmpty(t, data["session"])
	require.Equal(t, data["player_id"], c.PlayerID())

	shipID := data["ship_id"].(int64)
	require.EqualValues(t, 37, queryInt(t, g, `SELECT holds FROM ships WHERE id = ?`, shipID),
		"a new hull ships with half its holds fitted")
	require.EqualValues(t, 100, queryInt(t, g, `SELECT hull FROM ships WHERE id = ?`, shipID))
	require.EqualValues(t, 1, queryInt(t, g, `SELECT sector_id FROM ships WHERE id = ?`, shipID))

	bal := respData(t, call(t, g, c, "bank.balance", nil))
	require.EqualValues(t, 1000, bal["balance"])
	require.EqualValues(t, 2000, bal["on_hand"])
}

func TestRegisterNameTaken(t *testing.T) {
	g := newTestGame(t)
	register(t, g, "Kirk")

	c := bus.NewClient(io.Discard, "test")
	resp := call(t, g, c, "auth.register", map[string]any{"name": "Kirk", "password": "other"})
	requireRefused(t, resp, proto.RefNameTaken)
}

func TestLoginChecksCredentials(t *testing.T) {
	g := newTestGame(t)
	_, playerID := register(t, g, "Kirk")

	c := bus.NewClient(io.Discard, "test")
	resp := call(t, g, c, "auth.login", map[string]any{"name": "Kirk", "password": "wrong"})
	requireRefused(t, resp, proto.RefPermissionDenied)
	require.Zero(t, c.PlayerID())

	resp = call(t, g, c, "auth.login", map[string]any{"name": "Kirk", "password": "hunter2"})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.Equal(t, playerID, c.PlayerID())
	require.NotEmpty(t, respData(t, resp)["session"])
}

func TestSectorScanFromHome(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "sector.scan", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.EqualValues(t, 1, data["sector_id"])
	require.EqualValues(t, 1, data["safe_zone"])
	require.EqualValues(t, 1, data["port_present"])
	require.Equal(t, []int64{2, 3, 4, 5, 6, 7}, data["warps"])
}

func TestWarpRequiresLink(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	requireRefused(t, call(t, g, c, "move.warp", map[string]any{"to": 9}), proto.RefNoWarpLink)

	// A sector off the map is just another place with no link to here.
	requireRefused(t, call(t, g, c, "move.warp", map[string]any{"to": 999}), proto.RefNoWarpLink)
	require.EqualValues(t, 1000, queryInt(t, g, `SELECT turns FROM players WHERE id = ?`, playerID))

	resp := call(t, g, c, "move.warp", map[string]any{"to": 3})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 3, respData(t, resp)["sector_id"])
	require.Contains(t, respData(t, resp), "scan")
	require.EqualValues(t, 999, queryInt(t, g, `SELECT turns FROM players WHERE id = ?`, playerID))
}

func TestWarpSpendsTurns(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	exec(t, g, `UPDATE players SET turns = 0 WHERE id = ?`, playerID)
	requireRefused(t, call(t, g, c, "move.warp", map[string]any{"to": 2}), proto.RefTurnCostExceeds)
	require.EqualValues(t, 1, queryInt(t, g, `SELECT sector_id FROM ships WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID), "a refused warp must not move the ship")
}

func TestBeaconFixedInFedSpace(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	requireRefused(t, call(t, g, c, "sector.set_beacon", map[string]any{"text": "Kirk was here"}),
		proto.RefSafeZoneOnly)
}

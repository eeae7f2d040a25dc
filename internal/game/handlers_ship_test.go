package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func TestShipStatusAndRename(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	data := respData(t, call(t, g, c, "ship.status", nil))
	require.Equal(t, "Merchant Cruiser", data["type"])
	require.EqualValues(t, 37, data["holds"])

	resp := call(t, g, c, "ship.rename", map[string]any{"name": "Enterprise"})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.Equal(t, "Enterprise", respData(t, call(t, g, c, "ship.status", nil))["name"])
}

func TestShipRepairAtPort(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	shipID := shipOf(t, g, playerID)

	// Repairs run 50 credits per point of hull.
	exec(t, g, `UPDATE ships SET hull = 90 WHERE id = ?`, shipID)
	resp := call(t, g, c, "ship.repair", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 500, respData(t, resp)["cost"])
	require.EqualValues(t, 100, queryInt(t, g, `SELECT hull FROM ships WHERE id = ?`, shipID))
	require.EqualValues(t, 1500, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))

	requireRefused(t, call(t, g, c, "ship.repair", nil), proto.RefPrecondition)

	exec(t, g, `UPDATE ships SET hull = 10 WHERE id = ?`, shipID)
	resp = call(t, g, c, "ship.repair", nil)
	requireRefused(t, resp, proto.RefInsufficientFunds)
	require.EqualValues(t, 4500, resp.Error.Meta["missing"].(map[string]any)["credits"])
}

func TestShipHoldUpgrade(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	exec(t, g, `UPDATE players SET credits = 5000 WHERE id = ?`, playerID)

	resp := call(t, g, c, "ship.upgrade", map[string]any{"holds": 10})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 47, respData(t, resp)["holds"])
	require.EqualValues(t, 4000, respData(t, resp)["cost"])
	require.EqualValues(t, 1000, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))

	// 47 fitted plus 29 would blow past the Merchant Cruiser's 75.
	requireRefused(t, call(t, g, c, "ship.upgrade", map[string]any{"holds": 29}),
		proto.RefPrecondition)
}

func TestShipSelfDestructNeedsConfirmation(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	ship := shipOf(t, g, playerID)

	// Declining and omitting the flag both land in the same place.
	requireRefused(t, call(t, g, c, "ship.self_destruct", map[string]any{"confirm": false}),
		proto.RefPrecondition)
	requireRefused(t, call(t, g, c, "ship.self_destruct", nil), proto.RefPrecondition)
	require.EqualValues(t, 0, queryInt(t, g, `SELECT destroyed FROM ships WHERE id = ?`, ship))
}

func TestShipSelfDestructLeavesAPod(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	oldShip := shipOf(t, g, playerID)

	resp := call(t, g, c, "ship.self_destruct", map[string]any{"confirm": true})
	require.Equal(t, proto.StatusOK, resp.Status)

	require.EqualValues(t, 1, queryInt(t, g, `SELECT destroyed FROM ships WHERE id = ?`, oldShip))
	pod := shipOf(t, g, playerID)
	require.NotEqual(t, oldShip, pod)
	var name string
	require.NoError(t, g.Store.DB.QueryRow(`SELECT name FROM ships WHERE id = ?`, pod).Scan(&name))
	require.Equal(t, "Escape Pod", name)
	require.EqualValues(t, 2, queryInt(t, g, `SELECT type_id FROM ships WHERE id = ?`, pod))
}

func TestShipTowDragsBothShips(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	exec(t, g, `INSERT INTO ships (name, type_id, sector_id, holds, hull) VALUES ('Derelict', 2, 1, 12, 60)`)
	hulk := queryInt(t, g, `SELECT id FROM ships WHERE name = 'Derelict'`)
	exec(t, g, `INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 0)`,
		playerID, hulk)

	requireRefused(t, call(t, g, c, "ship.tow", map[string]any{"ship_id": hulk, "to": 9}),
		proto.RefNoWarpLink)

	resp := call(t, g, c, "ship.tow", map[string]any{"ship_id": hulk, "to": 2})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 2, queryInt(t, g, `SELECT sector_id FROM ships WHERE id = ?`, hulk))
	require.EqualValues(t, 2, queryInt(t, g, `SELECT sector_id FROM ships WHERE id = ?`, shipOf(t, g, playerID)))
	// Towing burns double turns.
	require.EqualValues(t, 998, queryInt(t, g, `SELECT turns FROM players WHERE id = ?`, playerID))
}

func TestShipSellScrapsForHalf(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	active := shipOf(t, g, playerID)

	requireRefused(t, call(t, g, c, "ship.sell", map[string]any{"ship_id": active}),
		proto.RefPrecondition)

	exec(t, g, `INSERT INTO ships (name, type_id, sector_id, holds, hull) VALUES ('Spare', 2, 1, 12, 60)`)
	spare := queryInt(t, g, `SELECT id FROM ships WHERE name = 'Spare'`)
	exec(t, g, `INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 0)`,
		playerID, spare)

	resp := call(t, g, c, "ship.sell", map[string]any{"ship_id": spare})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 15950/2, respData(t, resp)["scrap"])
	require.EqualValues(t, 2000+15950/2, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 1, queryInt(t, g, `SELECT destroyed FROM ships WHERE id = ?`, spare))
}

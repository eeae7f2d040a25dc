package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func TestHardwareBuy(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	resp := call(t, g, c, "hardware.buy", map[string]any{"code": "FTR", "quantity": 5})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 1000, respData(t, resp)["total"])
	require.EqualValues(t, 1000, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 5, queryInt(t, g, `SELECT fighters FROM ships WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID))
}

func TestHardwareBuyEnforcesShipCap(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	// A Merchant Cruiser tops out at 2500 fighters.
	requireRefused(t, call(t, g, c, "hardware.buy", map[string]any{"code": "FTR", "quantity": 2501}),
		proto.RefHoldsExceeded)
	// No photon tubes on this hull at all.
	requireRefused(t, call(t, g, c, "hardware.buy", map[string]any{"code": "PHO", "quantity": 1}),
		proto.RefHoldsExceeded)
}

func TestHardwareBuyChecksCredits(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	requireRefused(t, call(t, g, c, "hardware.buy", map[string]any{"code": "GEN", "quantity": 1}),
		proto.RefInsufficientFunds)
}

func TestHardwareNeedsStardock(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	require.Equal(t, proto.StatusOK, call(t, g, c, "move.warp", map[string]any{"to": 2}).Status)
	requireRefused(t, call(t, g, c, "hardware.buy", map[string]any{"code": "FTR", "quantity": 1}),
		proto.RefNotHere)

	resp := call(t, g, c, "stardock.info", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
	require.Equal(t, false, respData(t, resp)["present"])
}

func TestShipyardUpgrade(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	exec(t, g, `UPDATE players SET credits = 200000 WHERE id = ?`, playerID)
	oldShip := queryInt(t, g, `SELECT active_ship FROM players WHERE id = ?`, playerID)

	// CargoTran at 51950, minus half a Merchant Cruiser in trade.
	resp := call(t, g, c, "shipyard.upgrade", map[string]any{"shiptype_id": 7})
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.EqualValues(t, 51950-41300/2, data["price"])

	newShip := data["ship_id"].(int64)
	require.NotEqual(t, oldShip, newShip)
	require.Equal(t, newShip, queryInt(t, g, `SELECT active_ship FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 125/2, queryInt(t, g, `SELECT holds FROM ships WHERE id = ?`, newShip))
	require.EqualValues(t, 1, queryInt(t, g, `SELECT destroyed FROM ships WHERE id = ?`, oldShip))
	require.EqualValues(t, 200000-(51950-41300/2),
		queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
}

func TestShipyardUpgradeMovesCargo(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	exec(t, g, `UPDATE players SET credits = 200000 WHERE id = ?`, playerID)
	exec(t, g, `UPDATE ships SET ore = 10, organics = 4 WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID)

	resp := call(t, g, c, "shipyard.upgrade", map[string]any{"shiptype_id": 7, "name": "Heart of Gold"})
	require.Equal(t, proto.StatusOK, resp.Status)
	newShip := respData(t, resp)["ship_id"].(int64)
	require.EqualValues(t, 10, queryInt(t, g, `SELECT ore FROM ships WHERE id = ?`, newShip))
	require.EqualValues(t, 4, queryInt(t, g, `SELECT organics FROM ships WHERE id = ?`, newShip))
	var name string
	require.NoError(t, g.Store.DB.QueryRow(`SELECT name FROM ships WHERE id = ?`, newShip).Scan(&name))
	require.Equal(t, "Heart of Gold", name)
}

func TestShipyardUpgradeGates(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	exec(t, g, `UPDATE players SET credits = 999999 WHERE id = ?`, playerID)

	// The Imperial StarShip wants experience, alignment and a commission.
	requireRefused(t, call(t, g, c, "shipyard.upgrade", map[string]any{"shiptype_id": 8}),
		proto.RefPermissionDenied)
	// Swapping to the hull you already fly is pointless.
	requireRefused(t, call(t, g, c, "shipyard.upgrade", map[string]any{"shiptype_id": 1}),
		proto.RefPrecondition)

	resp := call(t, g, c, "shipyard.list", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
}

func TestShipyardUpgradeCargoMustFit(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	exec(t, g, `UPDATE players SET credits = 200000 WHERE id = ?`, playerID)
	exec(t, g, `UPDATE ships SET ore = 30 WHERE id = (SELECT active_ship FROM players WHERE id = ?)`, playerID)

	// A Scout Marauder fits only 12 holds; 30 ore will not squeeze in.
	requireRefused(t, call(t, g, c, "shipyard.upgrade", map[string]any{"shiptype_id": 2}),
		proto.RefHoldsExceeded)
}

package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func seedPlanet(t *testing.T, g *Game, ownerID int64) int64 {
	t.Helper()
	exec(t, g, `INSERT INTO planets (sector_id, name, class, owner_type, owner_id) VALUES (12, 'New Vulcan', 'M', 'player', ?)`,
		ownerID)
	return queryInt(t, g, `SELECT id FROM planets WHERE name = 'New Vulcan'`)
}

func TestCitadelUpgradeReportsShortfall(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	planetID := seedPlanet(t, g, playerID)
	exec(t, g, `INSERT INTO citadels (planet_id) VALUES (?)`, planetID)

	resp := call(t, g, c, "citadel.upgrade", map[string]any{"planet_id": planetID})
	requireRefused(t, resp, proto.RefInsufficientStock)

	missing := resp.Error.Meta["missing"].(map[string]any)
	require.EqualValues(t, 300, missing["ore"])
	require.EqualValues(t, 200, missing["organics"])
	require.EqualValues(t, 250, missing["equipment"])
	require.EqualValues(t, 1000, missing["colonists"])
}

func TestCitadelUpgradeConsumesMaterials(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	planetID := seedPlanet(t, g, playerID)
	exec(t, g, `INSERT INTO citadels (planet_id) VALUES (?)`, planetID)
	exec(t, g, `UPDATE planets SET ore_on_hand = 350, organics_on_hand = 200, equipment_on_hand = 300,
		colonists = 1000 WHERE id = ?`, planetID)

	resp := call(t, g, c, "citadel.upgrade", map[string]any{"planet_id": planetID})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 1, respData(t, resp)["target_level"])

	require.EqualValues(t, 50, queryInt(t, g, `SELECT ore_on_hand FROM planets WHERE id = ?`, planetID))
	require.EqualValues(t, 0, queryInt(t, g, `SELECT organics_on_hand FROM planets WHERE id = ?`, planetID))
	require.EqualValues(t, 50, queryInt(t, g, `SELECT equipment_on_hand FROM planets WHERE id = ?`, planetID))
	// Colonists build the citadel but stay on the planet.
	require.EqualValues(t, 1000, queryInt(t, g, `SELECT colonists FROM planets WHERE id = ?`, planetID))

	var status string
	require.NoError(t, g.Store.DB.QueryRow(
		`SELECT construction_status FROM citadels WHERE planet_id = ?`, planetID).Scan(&status))
	require.Equal(t, "upgrading", status)

	// Only one crew on the scaffolding at a time.
	requireRefused(t, call(t, g, c, "citadel.upgrade", map[string]any{"planet_id": planetID}),
		proto.RefAlreadyInProgress)
}

func TestCitadelUpgradeNeedsSite(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")
	planetID := seedPlanet(t, g, playerID)

	requireRefused(t, call(t, g, c, "citadel.upgrade", map[string]any{"planet_id": planetID}),
		proto.RefPrecondition)
}

func TestCitadelUpgradeChecksControl(t *testing.T) {
	g := newTestGame(t)
	_, ownerID := register(t, g, "Kirk")
	planetID := seedPlanet(t, g, ownerID)
	exec(t, g, `INSERT INTO citadels (planet_id) VALUES (?)`, planetID)

	intruder, _ := register(t, g, "Khan")
	requireRefused(t, call(t, g, intruder, "citadel.upgrade", map[string]any{"planet_id": planetID}),
		proto.RefPermissionDenied)
}

func TestCitadelUpgradeUnknownPlanet(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "citadel.upgrade", map[string]any{"planet_id": 4242})
	require.Equal(t, proto.StatusError, resp.Status)
	require.Equal(t, proto.ErrPlanetNotFound, resp.Error.Code)
}

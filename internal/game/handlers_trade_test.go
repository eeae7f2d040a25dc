package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func TestTradeQuoteAtStardock(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "trade.quote", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.Equal(t, "Sol Stardock", data["port"])

	quotes := data["quotes"].([]map[string]any)
	require.Len(t, quotes, 3)
	for _, q := range quotes {
		// Sol Stardock is SSS: it sells everything and buys nothing.
		require.Equal(t, true, q["port_sells"], "quote %v", q["code"])
		require.Equal(t, false, q["port_buys"], "quote %v", q["code"])
		require.Contains(t, q, "sell_price")
		require.NotContains(t, q, "buy_price")
	}
}

func TestTradeBuyAtPostedPrice(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	// Sector 1, size 10, seeded half full: EQU sells at exactly base price.
	resp := call(t, g, c, "trade.buy", map[string]any{"commodity": "EQU", "quantity": 3})
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.EqualValues(t, 60, data["unit_price"])
	require.EqualValues(t, 180, data["total"])
	require.EqualValues(t, 1820, data["credits_left"])

	require.EqualValues(t, 1820, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 3, queryInt(t, g, `SELECT equipment FROM ships WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID))
	require.EqualValues(t, 4997, queryInt(t, g, `SELECT quantity FROM entity_stock
		WHERE entity_type = 'port' AND entity_id = (SELECT id FROM ports WHERE sector_id = 1)
		  AND commodity_code = 'EQU'`))
}

func TestTradeBuyRefusesOverCapacity(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "trade.buy", map[string]any{"commodity": "ORE", "quantity": 38})
	requireRefused(t, resp, proto.RefHoldsExceeded)
	require.EqualValues(t, 37, resp.Error.Meta["free_holds"])
}

func TestTradeBuyChecksCredits(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	// 37 units of equipment at 60 is 2220, just past the starting bankroll.
	resp := call(t, g, c, "trade.buy", map[string]any{"commodity": "EQU", "quantity": 37})
	requireRefused(t, resp, proto.RefInsufficientFunds)
	missing := resp.Error.Meta["missing"].(map[string]any)
	require.EqualValues(t, 220, missing["credits"])
}

func TestTradeSell(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	// Alpha Centauri (sector 2) is BBS: it buys fuel ore.
	require.Equal(t, proto.StatusOK, call(t, g, c, "move.warp", map[string]any{"to": 2}).Status)
	requireRefused(t, call(t, g, c, "trade.sell", map[string]any{"commodity": "ORE", "quantity": 5}),
		proto.RefInsufficientStock)

	exec(t, g, `UPDATE ships SET ore = 5 WHERE id = (SELECT active_ship FROM players WHERE id = ?)`, playerID)
	resp := call(t, g, c, "trade.sell", map[string]any{"commodity": "ORE", "quantity": 5})
	require.Equal(t, proto.StatusOK, resp.Status)
	data := respData(t, resp)
	require.EqualValues(t, 9, data["unit_price"])
	require.EqualValues(t, 45, data["total"])

	require.EqualValues(t, 2045, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 0, queryInt(t, g, `SELECT ore FROM ships WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID))
	require.EqualValues(t, 2505, queryInt(t, g, `SELECT quantity FROM entity_stock
		WHERE entity_type = 'port' AND entity_id = (SELECT id FROM ports WHERE sector_id = 2)
		  AND commodity_code = 'ORE'`))
}

func TestTradeSellNeedsABuyer(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	exec(t, g, `UPDATE ships SET ore = 5 WHERE id = (SELECT active_ship FROM players WHERE id = ?)`, playerID)
	// Sol Stardock sells everything but buys nothing.
	requireRefused(t, call(t, g, c, "trade.sell", map[string]any{"commodity": "ORE", "quantity": 5}),
		proto.RefPrecondition)
}

func TestTradeHistoryRecordsBothLegs(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	require.Equal(t, proto.StatusOK,
		call(t, g, c, "trade.buy", map[string]any{"commodity": "ORE", "quantity": 2}).Status)
	require.Equal(t, proto.StatusOK,
		call(t, g, c, "trade.buy", map[string]any{"commodity": "ORG", "quantity": 1}).Status)

	require.EqualValues(t, 2, queryInt(t, g, `SELECT COUNT(*) FROM trade_log`))
	resp := call(t, g, c, "trade.history", nil)
	require.Equal(t, proto.StatusOK, resp.Status)
}

func TestTradeJettison(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	exec(t, g, `UPDATE ships SET ore = 5 WHERE id = (SELECT active_ship FROM players WHERE id = ?)`, playerID)
	resp := call(t, g, c, "trade.jettison", map[string]any{"commodity": "ORE", "quantity": 3})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 2, queryInt(t, g, `SELECT ore FROM ships WHERE id =
		(SELECT active_ship FROM players WHERE id = ?)`, playerID))

	requireRefused(t, call(t, g, c, "trade.jettison", map[string]any{"commodity": "ORE", "quantity": 10}),
		proto.RefInsufficientStock)
}

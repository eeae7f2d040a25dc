package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPricesFollowFillRatio(t *testing.T) {
	// Empty port: scarce goods sell dear and the port pays full base.
	require.EqualValues(t, 90, SellPrice(60, 0, 5, 1.0))
	require.EqualValues(t, 12, BuyPrice(12, 0, 5, 1.0))

	// Half full, the seeded state.
	require.EqualValues(t, 60, SellPrice(60, 2500, 5, 1.0))
	require.EqualValues(t, 9, BuyPrice(12, 2500, 5, 1.0))

	// Full port: glut, prices bottom out.
	require.EqualValues(t, 30, SellPrice(60, 5000, 5, 1.0))
	require.EqualValues(t, 6, BuyPrice(12, 5000, 5, 1.0))
}

func TestFillRatioCapsAtOne(t *testing.T) {
	require.Equal(t, SellPrice(60, 5000, 5, 1.0), SellPrice(60, 999999, 5, 1.0))
	require.Equal(t, BuyPrice(12, 5000, 5, 1.0), BuyPrice(12, 999999, 5, 1.0))
}

func TestSellPriceStaysAboveBuyPrice(t *testing.T) {
	for _, stock := range []int64{0, 100, 2500, 5000, 10000} {
		for _, curve := range []float64{0.8, 1.0, 1.2} {
			sell := SellPrice(25, stock, 5, curve)
			buy := BuyPrice(25, stock, 5, curve)
			require.Greater(t, sell, buy, "stock=%d curve=%v", stock, curve)
		}
	}
}

func TestPricesClampAtOne(t *testing.T) {
	require.EqualValues(t, 1, SellPrice(1, 5000, 5, 0.8))
	require.EqualValues(t, 1, BuyPrice(1, 5000, 5, 0.8))
	// A port row with a zero size never divides by zero.
	require.EqualValues(t, 1, SellPrice(2, 100, 0, 1.0))
}

func TestTradeCodePositions(t *testing.T) {
	p := &portRow{TradeCode: "BBS"}
	require.True(t, p.portBuys("ORE"))
	require.True(t, p.portBuys("ORG"))
	require.True(t, p.portSells("EQU"))
	require.False(t, p.portSells("ORE"))
	require.False(t, p.portBuys("EQU"))
	require.False(t, p.portBuys("XYZ"))
}

package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func TestBankDepositAndWithdraw(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	resp := call(t, g, c, "bank.deposit", map[string]any{"amount": 500})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 1500, respData(t, resp)["balance"])
	require.EqualValues(t, 1500, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))

	resp = call(t, g, c, "bank.withdraw", map[string]any{"amount": 200})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 1300, respData(t, resp)["balance"])
	require.EqualValues(t, 1700, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))

	requireRefused(t, call(t, g, c, "bank.withdraw", map[string]any{"amount": 99999}),
		proto.RefInsufficientFunds)
	requireRefused(t, call(t, g, c, "bank.deposit", map[string]any{"amount": 99999}),
		proto.RefInsufficientFunds)
}

func TestBankTransfer(t *testing.T) {
	g := newTestGame(t)
	c1, _ := register(t, g, "Kirk")
	_, fordID := register(t, g, "Ford")

	resp := call(t, g, c1, "bank.transfer", map[string]any{"to": "Ford", "amount": 250})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.NotEmpty(t, respData(t, resp)["tx_group_id"])

	require.EqualValues(t, 750, queryInt(t, g,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'player' AND owner_id =
			(SELECT id FROM players WHERE name = 'Kirk')`))
	require.EqualValues(t, 1250, queryInt(t, g,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'player' AND owner_id = ?`, fordID))

	// Both ledger legs share the group id.
	group := respData(t, resp)["tx_group_id"].(string)
	require.EqualValues(t, 2, queryInt(t, g,
		`SELECT COUNT(*) FROM bank_transactions WHERE tx_group_id = ?`, group))

	requireRefused(t, call(t, g, c1, "bank.transfer", map[string]any{"to": "Kirk", "amount": 10}),
		proto.RefPrecondition)
	requireRefused(t, call(t, g, c1, "bank.transfer", map[string]any{"to": "Nobody", "amount": 10}),
		proto.RefNotHere)
	requireRefused(t, call(t, g, c1, "bank.transfer", map[string]any{"to": "Ford", "amount": 5000}),
		proto.RefInsufficientFunds)
}

func TestFinePayRestoresStanding(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	exec(t, g, `INSERT INTO law_enforcement (player_id, reason, amount, issued_at) VALUES (?, 'littering', 150, 0)`,
		playerID)

	resp := call(t, g, c, "fine.list", nil)
	require.Equal(t, proto.StatusOK, resp.Status)

	fineID := queryInt(t, g, `SELECT id FROM law_enforcement WHERE player_id = ?`, playerID)
	resp = call(t, g, c, "fine.pay", map[string]any{"fine_id": fineID})
	require.Equal(t, proto.StatusOK, resp.Status)

	require.EqualValues(t, 1, queryInt(t, g, `SELECT paid FROM law_enforcement WHERE id = ?`, fineID))
	require.EqualValues(t, 850, queryInt(t, g,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'player' AND owner_id = ?`, playerID))
	require.EqualValues(t, 2, queryInt(t, g, `SELECT alignment FROM players WHERE id = ?`, playerID))

	// Paid means paid: the fine cannot be paid twice.
	requireRefused(t, call(t, g, c, "fine.pay", map[string]any{"fine_id": fineID}), proto.RefNotHere)
}

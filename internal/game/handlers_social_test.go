package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

func TestTavernLoanLifecycle(t *testing.T) {
	g := newTestGame(t)
	c, playerID := register(t, g, "Kirk")

	resp := call(t, g, c, "tavern.loan.take", map[string]any{"amount": 5000})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 7000, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))

	// One loan at a time; the shark remembers.
	requireRefused(t, call(t, g, c, "tavern.loan.take", map[string]any{"amount": 1000}),
		proto.RefConflict)

	// Overpaying settles at the principal and closes the book.
	resp = call(t, g, c, "tavern.loan.repay", map[string]any{"amount": 9999})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 5000, respData(t, resp)["paid"])
	require.EqualValues(t, 0, respData(t, resp)["remaining"])
	require.EqualValues(t, 2000, queryInt(t, g, `SELECT credits FROM players WHERE id = ?`, playerID))
	require.EqualValues(t, 0, queryInt(t, g, `SELECT COUNT(*) FROM tavern_loans WHERE player_id = ?`, playerID))

	requireRefused(t, call(t, g, c, "tavern.loan.repay", map[string]any{"amount": 100}),
		proto.RefPrecondition)
}

func TestTavernLotteryDailyLimit(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	for i := 1; i <= 5; i++ {
		resp := call(t, g, c, "tavern.lottery.buy", map[string]any{"stake": 10})
		require.Equal(t, proto.StatusOK, resp.Status)
		require.EqualValues(t, i, respData(t, resp)["tickets_today"])
	}
	requireRefused(t, call(t, g, c, "tavern.lottery.buy", map[string]any{"stake": 10}),
		proto.RefPrecondition)
}

func TestTavernDeadpoolBetRules(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")
	register(t, g, "Ford")

	requireRefused(t, call(t, g, c, "tavern.deadpool.bet", map[string]any{"target": "Kirk", "stake": 100}),
		proto.RefPrecondition)
	requireRefused(t, call(t, g, c, "tavern.deadpool.bet", map[string]any{"target": "Nobody", "stake": 100}),
		proto.RefNotHere)

	resp := call(t, g, c, "tavern.deadpool.bet", map[string]any{"target": "Ford", "stake": 100})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 1, queryInt(t, g, `SELECT COUNT(*) FROM tavern_deadpool`))
}

func TestTavernNeedsStardock(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	require.Equal(t, proto.StatusOK, call(t, g, c, "move.warp", map[string]any{"to": 2}).Status)
	requireRefused(t, call(t, g, c, "tavern.notice.post", map[string]any{"body": "WTB fuel ore"}),
		proto.RefNotHere)
}

func TestNoticeBoard(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "tavern.notice.post", map[string]any{"body": "WTS 200 equipment, sector 2"})
	require.Equal(t, proto.StatusOK, resp.Status)

	list := remarshal(t, respData(t, call(t, g, c, "tavern.notice.list", nil)))
	notices := list["notices"].([]any)
	require.Len(t, notices, 1)
	require.Equal(t, "Kirk", notices[0].(map[string]any)["author"])
	require.Equal(t, "WTS 200 equipment, sector 2", notices[0].(map[string]any)["body"])
}

func TestMailRoundTrip(t *testing.T) {
	g := newTestGame(t)
	c1, _ := register(t, g, "Kirk")
	c2, _ := register(t, g, "Ford")

	requireRefused(t, call(t, g, c1, "comm.send",
		map[string]any{"to": "Nobody", "body": "hello?"}), proto.RefNotHere)

	resp := call(t, g, c1, "comm.send",
		map[string]any{"to": "Ford", "subject": "trade route", "body": "meet me in sector 2"})
	require.Equal(t, proto.StatusOK, resp.Status)

	inbox := remarshal(t, respData(t, call(t, g, c2, "comm.inbox", nil)))
	mail := inbox["mail"].([]any)
	require.Len(t, mail, 1)
	letter := mail[0].(map[string]any)
	require.Equal(t, "Kirk", letter["from"])
	require.Equal(t, "trade route", letter["subject"])
	require.EqualValues(t, 0, letter["read"])

	// Opening the inbox marks everything read.
	inbox = remarshal(t, respData(t, call(t, g, c2, "comm.inbox", nil)))
	require.EqualValues(t, 1, inbox["mail"].([]any)[0].(map[string]any)["read"])
}

func TestSubspaceCorpChannelNeedsCorp(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	requireRefused(t, call(t, g, c, "comm.subspace",
		map[string]any{"body": "assemble", "channel": "corp"}), proto.RefPrecondition)

	resp := call(t, g, c, "comm.subspace", map[string]any{"body": "anyone trading organics?"})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.Equal(t, "open", respData(t, resp)["channel"])
}

package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdearman/twclone-sub004/internal/proto"
)

// remarshal flattens a handler's typed payload into generic JSON for
// structure assertions.
func remarshal(t *testing.T, v any) map[string]any {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf, &m))
	return m
}

func TestCorpCreateAndJoin(t *testing.T) {
	g := newTestGame(t)
	c1, _ := register(t, g, "Kirk")
	c2, _ := register(t, g, "Ford")

	resp := call(t, g, c1, "corp.create", map[string]any{"name": "Vogon Holdings", "tag": "VH"})
	require.Equal(t, proto.StatusOK, resp.Status)
	corpID := respData(t, resp)["corp_id"].(int64)

	// Names are unique, case-insensitively.
	requireRefused(t, call(t, g, c2, "corp.create", map[string]any{"name": "vogon holdings", "tag": "VH2"}),
		proto.RefNameTaken)
	// One corp per captain.
	requireRefused(t, call(t, g, c1, "corp.create", map[string]any{"name": "Second Venture", "tag": "SV"}),
		proto.RefConflict)

	resp = call(t, g, c2, "corp.join", map[string]any{"corp_id": corpID})
	require.Equal(t, proto.StatusOK, resp.Status)
	requireRefused(t, call(t, g, c2, "corp.join", map[string]any{"corp_id": corpID}), proto.RefConflict)

	roster := remarshal(t, respData(t, call(t, g, c2, "corp.roster", nil)))
	members := roster["members"].([]any)
	require.Len(t, members, 2)
	first := members[0].(map[string]any)
	require.Equal(t, "Leader", first["role"])
	require.Equal(t, "Kirk", first["name"])

	info := respData(t, call(t, g, c2, "corp.info", nil))
	require.EqualValues(t, 1000, info["shares"])
	require.EqualValues(t, 100, info["share_price"])
	require.EqualValues(t, 0, info["balance"], "members see the treasury")
}

func TestCorpTagRules(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	resp := call(t, g, c, "corp.create", map[string]any{"name": "Bad Tag Inc", "tag": "toolong"})
	require.Equal(t, proto.StatusError, resp.Status)
	require.Equal(t, proto.ErrSerialization, resp.Error.Code)
}

func TestCorpLeadershipHandover(t *testing.T) {
	g := newTestGame(t)
	c1, kirkID := register(t, g, "Kirk")
	c2, fordID := register(t, g, "Ford")

	corpID := respData(t, call(t, g, c1, "corp.create",
		map[string]any{"name": "Vogon Holdings", "tag": "VH"}))["corp_id"].(int64)
	require.Equal(t, proto.StatusOK,
		call(t, g, c2, "corp.join", map[string]any{"corp_id": corpID}).Status)

	// The leader cannot walk out on a crewed corp.
	requireRefused(t, call(t, g, c1, "corp.leave", nil), proto.RefPrecondition)
	// Members do not hand out promotions.
	requireRefused(t, call(t, g, c2, "corp.promote",
		map[string]any{"player_id": kirkID, "role": "Member"}), proto.RefPermissionDenied)

	resp := call(t, g, c1, "corp.promote", map[string]any{"player_id": fordID, "role": "Leader"})
	require.Equal(t, proto.StatusOK, resp.Status)

	var role string
	require.NoError(t, g.Store.DB.QueryRow(
		`SELECT role FROM corp_members WHERE player_id = ?`, kirkID).Scan(&role))
	require.Equal(t, "Officer", role, "handing over the seat demotes the old leader")
	require.Equal(t, fordID, queryInt(t, g, `SELECT owner_id FROM corporations WHERE id = ?`, corpID))

	require.Equal(t, proto.StatusOK, call(t, g, c1, "corp.leave", nil).Status)
}

func TestCorpDissolvesWithLastMember(t *testing.T) {
	g := newTestGame(t)
	c, _ := register(t, g, "Kirk")

	corpID := respData(t, call(t, g, c, "corp.create",
		map[string]any{"name": "Solo Ventures", "tag": "SOLO"}))["corp_id"].(int64)
	require.Equal(t, proto.StatusOK, call(t, g, c, "corp.leave", nil).Status)

	require.EqualValues(t, 0, queryInt(t, g, `SELECT COUNT(*) FROM corporations WHERE id = ?`, corpID))
	require.EqualValues(t, 0, queryInt(t, g, `SELECT COUNT(*) FROM corp_stocks WHERE corp_id = ?`, corpID))
}

func TestCorpTreasuryPermissions(t *testing.T) {
	g := newTestGame(t)
	c1, _ := register(t, g, "Kirk")
	c2, _ := register(t, g, "Ford")

	corpID := respData(t, call(t, g, c1, "corp.create",
		map[string]any{"name": "Vogon Holdings", "tag": "VH"}))["corp_id"].(int64)
	require.Equal(t, proto.StatusOK,
		call(t, g, c2, "corp.join", map[string]any{"corp_id": corpID}).Status)

	// Anyone can pay in, only officers draw out.
	require.Equal(t, proto.StatusOK,
		call(t, g, c2, "corp.deposit", map[string]any{"amount": 500}).Status)
	require.EqualValues(t, 500, queryInt(t, g,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'corp' AND owner_id = ?`, corpID))
	requireRefused(t, call(t, g, c2, "corp.withdraw", map[string]any{"amount": 100}),
		proto.RefPermissionDenied)

	resp := call(t, g, c1, "corp.withdraw", map[string]any{"amount": 100})
	require.Equal(t, proto.StatusOK, resp.Status)
	require.EqualValues(t, 400, queryInt(t, g,
		`SELECT balance FROM bank_accounts WHERE owner_type = 'corp' AND owner_id = ?`, corpID))
	requireRefused(t, call(t, g, c1, "corp.withdraw", map[string]any{"amount": 5000}),
		proto.RefInsufficientFunds)
}

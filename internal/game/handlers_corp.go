package game

import (
	"database/sql"
	"regexp"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

var corpTagRe = regexp.MustCompile(`^[A-Za-z0-9]{2,5}$`)

func cmdCorpCreate(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Name string `json:"name" validate:"required,min=3,max=40"`
		Tag  string `json:"tag" validate:"required"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if !corpTagRe.MatchString(in.Tag) {
		return proto.Errorf(proto.ErrSerialization, "tag must be 2-5 alphanumerics"), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, _, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if corpID != 0 {
		return nil, proto.Refuse(proto.RefConflict, "already in a corporation")
	}

	now := time.Now().Unix()
	res, err := tx.Exec(`INSERT INTO corporations (name, tag, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		in.Name, in.Tag, playerID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, proto.Refuse(proto.RefNameTaken, "corporation name or tag already taken")
		}
		return nil, err
	}
	corpID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO corp_members (corp_id, player_id, role, joined_at) VALUES (?, ?, 'Leader', ?)`,
		corpID, playerID, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO corp_stocks (corp_id, last_recalc) VALUES (?, ?)`, corpID, now); err != nil {
		return nil, err
	}
	if _, err := accountID(tx, CorpRef(corpID)); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.created", playerID, 0,
		map[string]any{"corp_id": corpID, "name": in.Name, "tag": in.Tag}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.created_v1", map[string]any{"corp_id": corpID, "name": in.Name, "tag": in.Tag}), nil
}

func cmdCorpJoin(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		CorpID int64 `json:"corp_id" validate:"required,min=1"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	current, _, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if current != 0 {
		return nil, proto.Refuse(proto.RefConflict, "leave your current corporation first")
	}
	var name string
	err = tx.QueryRow(`SELECT name FROM corporations WHERE id = ?`, in.CorpID).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no corporation %d", in.CorpID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO corp_members (corp_id, player_id, role, joined_at) VALUES (?, ?, 'Member', ?)`,
		in.CorpID, playerID, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.joined", playerID, 0,
		map[string]any{"corp_id": in.CorpID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.joined_v1", map[string]any{"corp_id": in.CorpID, "name": name}), nil
}

func cmdCorpLeave(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, role, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if corpID == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
	}
	if role == "Leader" {
		var others int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM corp_members WHERE corp_id = ? AND player_id != ?`,
			corpID, playerID).Scan(&others); err != nil {
			return nil, err
		}
		if others > 0 {
			return nil, proto.Refuse(proto.RefPrecondition, "promote a new leader before leaving")
		}
		// Last member out dissolves the corporation.
		if _, err := tx.Exec(`DELETE FROM corporations WHERE id = ?`, corpID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`DELETE FROM corp_stocks WHERE corp_id = ?`, corpID); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(`DELETE FROM corp_members WHERE player_id = ?`, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.left", playerID, 0,
		map[string]any{"corp_id": corpID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.left_v1", map[string]any{"corp_id": corpID}), nil
}

func cmdCorpInfo(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		CorpID int64 `json:"corp_id"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	if in.CorpID == 0 {
		corpID, _, err := playerCorp(tx, playerID)
		if err != nil {
			return nil, err
		}
		if corpID == 0 {
			return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
		}
		in.CorpID = corpID
	}

	var name, tag string
	var ownerID, created int64
	err = tx.QueryRow(`SELECT name, tag, owner_id, created_at FROM corporations WHERE id = ?`, in.CorpID).
		Scan(&name, &tag, &ownerID, &created)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no corporation %d", in.CorpID)
	}
	if err != nil {
		return nil, err
	}
	var members int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM corp_members WHERE corp_id = ?`, in.CorpID).Scan(&members); err != nil {
		return nil, err
	}
	out := map[string]any{
		"corp_id": in.CorpID, "name": name, "tag": tag, "owner_id": ownerID,
		"created_at": created, "members": members,
	}
	var shares, price int64
	if err := tx.QueryRow(`SELECT shares, share_price FROM corp_stocks WHERE corp_id = ?`, in.CorpID).
		Scan(&shares, &price); err == nil {
		out["shares"] = shares
		out["share_price"] = price
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	memberID, _, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if memberID == in.CorpID {
		var balance int64
		acct, err := accountID(tx, CorpRef(in.CorpID))
		if err != nil {
			return nil, err
		}
		if err := tx.QueryRow(`SELECT balance FROM bank_accounts WHERE id = ?`, acct).Scan(&balance); err != nil {
			return nil, err
		}
		out["balance"] = balance
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.info_v1", out), nil
}

func cmdCorpRoster(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	corpID, _, err := playerCorp(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if corpID == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
	}
	rows, err := tx.Query(`
		SELECT p.id, p.name, m.role, m.joined_at
		  FROM corp_members m JOIN players p ON p.id = m.player_id
		 WHERE m.corp_id = ?
		 ORDER BY CASE m.role WHEN 'Leader' THEN 0 WHEN 'Officer' THEN 1 ELSE 2 END, p.name`, corpID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type member struct {
		PlayerID int64  `json:"player_id"`
		Name     string `json:"name"`
		Role     string `json:"role"`
		JoinedAt int64  `json:"joined_at"`
	}
	var roster []member
	for rows.Next() {
		var m member
		if err := rows.Scan(&m.PlayerID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		roster = append(roster, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("corp.roster_v1", map[string]any{"corp_id": corpID, "members": roster}), nil
}

// memberTarget resolves another member of the caller's corp and checks the
// caller holds the Leader seat.
func memberTarget(tx *sql.Tx, callerID, targetID int64) (corpID int64, targetRole string, err error) {
	corpID, role, err := playerCorp(tx, callerID)
	if err != nil {
		return 0, "", err
	}
	if corpID == 0 {
		return 0, "", proto.Refuse(proto.RefPrecondition, "not in a corporation")
	}
	if role != "Leader" {
		return 0, "", proto.Refuse(proto.RefPermissionDenied, "only the leader may do that")
	}
	if targetID == callerID {
		return 0, "", proto.Refuse(proto.RefPrecondition, "cannot target yourself")
	}
	tCorp, tRole, err := playerCorp(tx, targetID)
	if err != nil {
		return 0, "", err
	}
	if tCorp != corpID {
		return 0, "", proto.Refuse(proto.RefNotHere, "player is not in your corporation")
	}
	return corpID, tRole, nil
}

func cmdCorpPromote(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlayerID int64  `json:"player_id" validate:"required,min=1"`
		Role     string `json:"role" validate:"required,oneof=Leader Officer Member"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, _, err := memberTarget(tx, playerID, in.PlayerID)
	if err != nil {
		return nil, err
	}
	// One leader at a time; handing over the seat demotes the caller.
	if in.Role == "Leader" {
		if _, err := tx.Exec(`UPDATE corp_members SET role = 'Officer' WHERE corp_id = ? AND player_id = ?`,
			corpID, playerID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`UPDATE corporations SET owner_id = ? WHERE id = ?`, in.PlayerID, corpID); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(`UPDATE corp_members SET role = ? WHERE corp_id = ? AND player_id = ?`,
		in.Role, corpID, in.PlayerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.promoted", playerID, 0,
		map[string]any{"corp_id": corpID, "player_id": in.PlayerID, "role": in.Role}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	g.Cast.DeliverToPlayer(in.PlayerID, "corp.role_changed_v1",
		map[string]any{"corp_id": corpID, "role": in.Role})
	return proto.OK("corp.promoted_v1", map[string]any{"player_id": in.PlayerID, "role": in.Role}), nil
}

func cmdCorpKick(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlayerID int64 `json:"player_id" validate:"required,min=1"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, _, err := memberTarget(tx, playerID, in.PlayerID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM corp_members WHERE corp_id = ? AND player_id = ?`,
		corpID, in.PlayerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.kicked", playerID, 0,
		map[string]any{"corp_id": corpID, "player_id": in.PlayerID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	g.Cast.DeliverToPlayer(in.PlayerID, "corp.kicked_v1", map[string]any{"corp_id": corpID})
	return proto.OK("corp.kicked_v1", map[string]any{"player_id": in.PlayerID}), nil
}

func cmdCorpDeposit(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in amountInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, _, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if corpID == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
	}
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		in.Amount, playerID, in.Amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "not carrying %d credits", in.Amount)
	}
	acct, err := accountID(tx, CorpRef(corpID))
	if err != nil {
		return nil, err
	}
	if err := ledger(tx, acct, "CREDIT", in.Amount, "", "member deposit"); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.deposit", playerID, 0,
		map[string]any{"corp_id": corpID, "amount": in.Amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.deposited_v1", map[string]any{"corp_id": corpID, "amount": in.Amount}), nil
}

func cmdCorpWithdraw(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in amountInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	corpID, role, err := playerCorp(tx, playerID)
	if err != nil {
		return nil, err
	}
	if corpID == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
	}
	if role != "Leader" && role != "Officer" {
		return nil, proto.Refuse(proto.RefPermissionDenied, "officers only")
	}
	acct, err := accountID(tx, CorpRef(corpID))
	if err != nil {
		return nil, err
	}
	if err := ledger(tx, acct, "DEBIT", in.Amount, "", "officer withdrawal"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, in.Amount, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "corp.withdraw", playerID, 0,
		map[string]any{"corp_id": corpID, "amount": in.Amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("corp.withdrawn_v1", map[string]any{"corp_id": corpID, "amount": in.Amount}), nil
}

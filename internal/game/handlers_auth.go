package game

import (
	"database/sql"
	"time"

	"github.com/rdearman/twclone-sub004/internal/auth"
	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

func (g *Game) sessionTTL(q store.Queryer) time.Duration {
	return time.Duration(g.Store.ConfigInt(q, "session_ttl_sec", 86400)) * time.Second
}

func cmdAuthRegister(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Name     string `json:"name" validate:"required,min=2,max=40"`
		Password string `json:"password" validate:"required,min=1,max=128"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	var taken int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM players WHERE name = ?`, in.Name).Scan(&taken); err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, proto.Refuse(proto.RefNameTaken, "name %q is taken", in.Name)
	}

	now := time.Now().Unix()
	turns := g.Store.ConfigInt(tx, "turns_per_day", 1000)
	res, err := tx.Exec(`
		INSERT INTO players (name, pass_digest, home_sector, credits, turns, turns_per_day, created_at, last_seen)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)`,
		in.Name, auth.Digest(in.Name, in.Password),
		g.Store.ConfigInt(tx, "start_credits", 2000), turns, turns, now, now)
	if err != nil {
		return nil, err
	}
	playerID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	// Starting ship: Merchant Cruiser in sector 1, fitted with half its
	// hold capacity. The rest is bought at the stardock.
	var holds, hull int64
	if err := tx.QueryRow(`SELECT max_holds / 2, max_hull FROM shiptypes WHERE id = 1`).Scan(&holds, &hull); err != nil {
		return nil, err
	}
	res, err = tx.Exec(`INSERT INTO ships (name, type_id, sector_id, holds, hull) VALUES (?, 1, 1, ?, ?)`,
		in.Name+"'s Cruiser", holds, hull)
	if err != nil {
		return nil, err
	}
	shipID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 1)`,
		playerID, shipID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET active_ship = ? WHERE id = ?`, shipID, playerID); err != nil {
		return nil, err
	}

	acct, err := accountID(tx, PlayerRef(playerID))
	if err != nil {
		return nil, err
	}
	if opening := g.Store.ConfigInt(tx, "bank_opening", 1000); opening > 0 {
		if err := ledger(tx, acct, "CREDIT", opening, "", "opening balance"); err != nil {
			return nil, err
		}
	}

	token, err := auth.CreateSession(tx, playerID, g.sessionTTL(tx))
	if err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "player.registered", playerID, 1,
		map[string]any{"name": in.Name}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	c.SetPlayerID(playerID)
	return proto.OK("auth.registered_v1", map[string]any{
		"player_id": playerID, "ship_id": shipID, "session": token,
	}), nil
}

func cmdAuthLogin(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Name     string `json:"name" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	var playerID int64
	var digest string
	err = tx.QueryRow(`SELECT id, pass_digest FROM players WHERE name = ? AND destroyed = 0`, in.Name).
		Scan(&playerID, &digest)
	if err == sql.ErrNoRows || (err == nil && digest != auth.Digest(in.Name, in.Password)) {
		return nil, proto.Refuse(proto.RefPermissionDenied, "bad credentials")
	}
	if err != nil {
		return nil, err
	}

	token, err := auth.CreateSession(tx, playerID, g.sessionTTL(tx))
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET last_seen = ? WHERE id = ?`, time.Now().Unix(), playerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	c.SetPlayerID(playerID)
	return proto.OK("auth.session_v1", map[string]any{"player_id": playerID, "session": token}), nil
}

func cmdAuthLogout(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Session string `json:"session"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Session != "" {
		if err := auth.Revoke(g.Store.DB, in.Session); err != nil {
			return nil, err
		}
	}
	c.SetPlayerID(0)
	return proto.OK("auth.logged_out_v1", map[string]any{}), nil
}

func cmdAuthRefresh(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Session string `json:"session" validate:"required,len=64,hexadecimal"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	fresh, err := auth.Refresh(g.Store.DB, in.Session, g.sessionTTL(g.Store.DB))
	if err != nil {
		return nil, err
	}
	if fresh == "" {
		return proto.Refusef(proto.RefNotAuthenticated, "session unknown or expired"), nil
	}
	playerID, err := auth.Resolve(g.Store.DB, fresh)
	if err != nil {
		return nil, err
	}
	c.SetPlayerID(playerID)
	return proto.OK("auth.session_v1", map[string]any{"player_id": playerID, "session": fresh}), nil
}

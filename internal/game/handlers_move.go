package game

import (
	"database/sql"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

// applyEntryHazards runs the arrival gauntlet: hostile armid mines detonate,
// limpets attach, and offensive fighter garrisons engage. Returns the hazard
// report and whether the ship survived.
func applyEntryHazards(tx *sql.Tx, sh *Ship, playerID int64) (map[string]any, bool, error) {
	report := map[string]any{}
	if inFedSpace(sh.SectorID) {
		return report, true, nil
	}

	var mineQty int64
	var mineOwnerType string
	var mineOwnerID int64
	err := tx.QueryRow(`
		SELECT quantity, owner_type, owner_id FROM sector_mines
		 WHERE sector_id = ? AND kind = 'armid' AND quantity > 0
		   AND NOT (owner_type = 'player' AND owner_id = ?)
		 ORDER BY quantity DESC LIMIT 1`, sh.SectorID, playerID).
		Scan(&mineQty, &mineOwnerType, &mineOwnerID)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, err
	}
	if err == nil {
		hits := mineQty
		if hits > 3 {
			hits = 3
		}
		damage := hits * 250
		if _, err := tx.Exec(`
			UPDATE sector_mines SET quantity = quantity - ?
			 WHERE sector_id = ? AND kind = 'armid' AND owner_type = ? AND owner_id = ?`,
			hits, sh.SectorID, mineOwnerType, mineOwnerID); err != nil {
			return nil, false, err
		}
		absorbed := damage
		if absorbed > sh.Shields {
			absorbed = sh.Shields
		}
		sh.Shields -= absorbed
		sh.Hull -= (damage - absorbed) / 10
		report["mines_hit"] = hits
		report["damage"] = damage
		if err := appendEvent(tx, "mine.hit", playerID, sh.SectorID,
			map[string]any{"hits": hits, "damage": damage}, ""); err != nil {
			return nil, false, err
		}
	}

	var limpets int64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(quantity),0) FROM sector_mines
		 WHERE sector_id = ? AND kind = 'limpet' AND NOT (owner_type = 'player' AND owner_id = ?)`,
		sh.SectorID, playerID).Scan(&limpets)
	if err != nil {
		return nil, false, err
	}
	if limpets > 0 {
		if _, err := tx.Exec(`
			UPDATE sector_mines SET quantity = quantity - 1
			 WHERE sector_id = ? AND kind = 'limpet' AND quantity > 0
			   AND NOT (owner_type = 'player' AND owner_id = ?)`, sh.SectorID, playerID); err != nil {
			return nil, false, err
		}
		report["limpet_attached"] = true
		if err := appendEvent(tx, "limpet.attached", playerID, sh.SectorID,
			map[string]any{"ship_id": sh.ID}, ""); err != nil {
			return nil, false, err
		}
	}

	var garrison int64
	var gOwnerType string
	var gOwnerID int64
	err = tx.QueryRow(`
		SELECT quantity, owner_type, owner_id FROM sector_fighters
		 WHERE sector_id = ? AND mode = 'offensive' AND quantity > 0
		   AND NOT (owner_type = 'player' AND owner_id = ?)
		 ORDER BY quantity DESC LIMIT 1`, sh.SectorID, playerID).
		Scan(&garrison, &gOwnerType, &gOwnerID)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, err
	}
	if err == nil {
		losses := garrison
		if losses > sh.Fighters {
			losses = sh.Fighters
		}
		if _, err := tx.Exec(`
			UPDATE sector_fighters SET quantity = quantity - ?
			 WHERE sector_id = ? AND owner_type = ? AND owner_id = ?`,
			losses, sh.SectorID, gOwnerType, gOwnerID); err != nil {
			return nil, false, err
		}
		sh.Fighters -= losses
		remaining := garrison - losses
		if remaining > 0 {
			sh.Hull -= remaining / 10
		}
		report["fighters_engaged"] = garrison
		report["fighters_lost"] = losses
		if err := appendEvent(tx, "fighters.engaged", playerID, sh.SectorID,
			map[string]any{"garrison": garrison, "losses": losses}, ""); err != nil {
			return nil, false, err
		}
	}

	if _, err := tx.Exec(`UPDATE ships SET shields = ?, fighters = ?, hull = ? WHERE id = ?`,
		sh.Shields, sh.Fighters, sh.Hull, sh.ID); err != nil {
		return nil, false, err
	}
	if sh.Hull <= 0 {
		if err := destroyShip(tx, sh, playerID, "hazard"); err != nil {
			return nil, false, err
		}
		report["ship_destroyed"] = true
		return report, false, nil
	}
	return report, true, nil
}

// destroyShip marks the hull gone and puts the pilot in an escape pod (a
// fresh Scout in their home sector).
func destroyShip(tx *sql.Tx, sh *Ship, playerID int64, cause string) error {
	if _, err := tx.Exec(`UPDATE ships SET destroyed = 1 WHERE id = ?`, sh.ID); err != nil {
		return err
	}
	var home int64
	if err := tx.QueryRow(`SELECT home_sector FROM players WHERE id = ?`, playerID).Scan(&home); err != nil {
		return err
	}
	var holds, hull int64
	if err := tx.QueryRow(`SELECT max_holds / 2, max_hull FROM shiptypes WHERE id = 2`).Scan(&holds, &hull); err != nil {
		return err
	}
	res, err := tx.Exec(`INSERT INTO ships (name, type_id, sector_id, holds, hull) VALUES ('Escape Pod', 2, ?, ?, ?)`,
		home, holds, hull)
	if err != nil {
		return err
	}
	podID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 1)`,
		playerID, podID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE players SET active_ship = ? WHERE id = ?`, podID, playerID); err != nil {
		return err
	}
	return appendEvent(tx, "ship.destroyed", playerID, sh.SectorID,
		map[string]any{"ship_id": sh.ID, "cause": cause}, "")
}

func cmdMoveWarp(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		To int64 `json:"to" validate:"required,min=1"`
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
	sh, err := loadShip(tx, playerID)
	if err != nil {
		return nil, err
	}
	if sh.LandedPlanet != 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "launch from the planet first")
	}

	// A sector that does not exist has no links either; the one check
	// answers for both.
	var linked int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sector_warps WHERE from_sector = ? AND to_sector = ?`,
		sh.SectorID, in.To).Scan(&linked); err != nil {
		return nil, err
	}
	if linked == 0 {
		return nil, proto.Refuse(proto.RefNoWarpLink, "no warp link %d -> %d", sh.SectorID, in.To)
	}
	if err := spendTurns(tx, playerID, sh.TurnsPerWarp); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET sector_id = ?, docked = 0 WHERE id = ?`, in.To, sh.ID); err != nil {
		return nil, err
	}
	sh.SectorID = in.To

	hazards, alive, err := applyEntryHazards(tx, sh, playerID)
	if err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "player.warped", playerID, in.To,
		map[string]any{"ship_id": sh.ID}, req.IdempotencyKey); err != nil {
		return nil, err
	}

	out := map[string]any{"sector_id": in.To, "hazards": hazards}
	if alive {
		snap, err := scanSector(tx, in.To, playerID)
		if err != nil {
			return nil, err
		}
		out["scan"] = snap
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("move.warped_v1", out), nil
}

func cmdMoveTranswarp(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		To int64 `json:"to" validate:"required,min=1"`
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
	sh, err := loadShip(tx, playerID)
	if err != nil {
		return nil, err
	}
	if sh.CanTranswarp == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "%s has no transwarp drive", sh.TypeName)
	}
	const fuel = 10
	if sh.Ore < fuel {
		return nil, proto.Refuse(proto.RefInsufficientStock, "transwarp needs %d fuel ore", fuel)
	}
	ok, err := sectorExists(tx, in.To)
	if err != nil {
		return nil, err
	}
	if !ok {
		return proto.Errorf(proto.ErrSectorNotFound, "sector %d not found", in.To), nil
	}
	if err := spendTurns(tx, playerID, 3); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET sector_id = ?, ore = ore - ?, docked = 0 WHERE id = ?`,
		in.To, fuel, sh.ID); err != nil {
		return nil, err
	}
	sh.SectorID = in.To
	sh.Ore -= fuel

	hazards, alive, err := applyEntryHazards(tx, sh, playerID)
	if err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "player.transwarped", playerID, in.To,
		map[string]any{"ship_id": sh.ID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	out := map[string]any{"sector_id": in.To, "hazards": hazards}
	if alive {
		snap, err := scanSector(tx, in.To, playerID)
		if err != nil {
			return nil, err
		}
		out["scan"] = snap
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("move.transwarped_v1", out), nil
}

func routePayload(path []int64) map[string]any {
	return map[string]any{
		"from_sector_id": path[0],
		"to_sector_id":   path[len(path)-1],
		"path":           path,
		"hops":           len(path) - 1,
	}
}

func cmdMovePathfind(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		From  int64   `json:"from"`
		To    int64   `json:"to" validate:"required,min=1"`
		Avoid []int64 `json:"avoid"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.From == 0 {
		tx, err := g.Store.Begin()
		if err != nil {
			return nil, err
		}
		sh, err := loadShip(tx, c.PlayerID())
		g.Store.Rollback(tx)
		if err != nil {
			return nil, err
		}
		in.From = sh.SectorID
	}
	path, err := g.FindPath(in.From, in.To, in.Avoid)
	if err != nil {
		return nil, err
	}
	return proto.OK("move.pathfind_v1", routePayload(path)), nil
}

func cmdAutopilotStart(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		To    int64   `json:"to" validate:"required,min=1"`
		Avoid []int64 `json:"avoid"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	sh, err := loadShip(tx, c.PlayerID())
	g.Store.Rollback(tx)
	if err != nil {
		return nil, err
	}

	path, err := g.FindPath(sh.SectorID, in.To, in.Avoid)
	if err != nil {
		return nil, err
	}
	g.apMu.Lock()
	g.autopilots[c.PlayerID()] = &route{Path: path, Started: time.Now()}
	g.apMu.Unlock()
	return proto.OK("move.autopilot.route_v1", routePayload(path)), nil
}

func cmdAutopilotStatus(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	g.apMu.Lock()
	r := g.autopilots[c.PlayerID()]
	g.apMu.Unlock()
	if r == nil {
		return proto.OK("move.autopilot.status_v1", map[string]any{"active": false}), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	sh, err := loadShip(tx, c.PlayerID())
	g.Store.Rollback(tx)
	if err != nil {
		return nil, err
	}

	remaining := len(r.Path)
	for i, s := range r.Path {
		if s == sh.SectorID {
			remaining = len(r.Path) - 1 - i
			break
		}
	}
	return proto.OK("move.autopilot.status_v1", map[string]any{
		"active":         true,
		"path":           r.Path,
		"current_sector": sh.SectorID,
		"hops_remaining": remaining,
	}), nil
}

func cmdAutopilotStop(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	g.apMu.Lock()
	delete(g.autopilots, c.PlayerID())
	g.apMu.Unlock()
	return proto.OK("move.autopilot.stopped_v1", map[string]any{"active": false}), nil
}

package game

import (
	"database/sql"
	"math/rand"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

// pilotOf returns the player flying the ship, 0 if nobody has it active.
func pilotOf(tx *sql.Tx, shipID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM players WHERE active_ship = ? AND destroyed = 0`, shipID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// exchange resolves one volley between two fighter wings. Each side loses up
// to the other's committed strength, jittered so identical wings do not
// always annihilate each other exactly.
func exchange(att, def int64) (attLoss, defLoss int64) {
	if att <= 0 || def <= 0 {
		return 0, 0
	}
	defLoss = (att + 1) / 2
	if att > 1 {
		defLoss += rand.Int63n(att / 2)
	}
	attLoss = (def + 1) / 2
	if def > 1 {
		attLoss += rand.Int63n(def / 2)
	}
	if defLoss > def {
		defLoss = def
	}
	if attLoss > att {
		attLoss = att
	}
	return attLoss, defLoss
}

func cmdCombatAttack(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShipID   int64 `json:"ship_id" validate:"required,min=1"`
		Fighters int64 `json:"fighters" validate:"min=0"`
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
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no combat in FedSpace")
	}
	if in.ShipID == sh.ID {
		return nil, proto.Refuse(proto.RefPrecondition, "cannot attack your own ship")
	}

	var tgtSector, tgtFighters, tgtShields, tgtHull, tgtLanded int64
	var tgtName string
	err = tx.QueryRow(`SELECT sector_id, fighters, shields, hull, landed_planet, name
		  FROM ships WHERE id = ? AND destroyed = 0`, in.ShipID).
		Scan(&tgtSector, &tgtFighters, &tgtShields, &tgtHull, &tgtLanded, &tgtName)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no such ship here")
	}
	if err != nil {
		return nil, err
	}
	if tgtSector != sh.SectorID || tgtLanded != 0 {
		return nil, proto.Refuse(proto.RefNotHere, "%s is not in this sector", tgtName)
	}

	committed := in.Fighters
	if committed == 0 || committed > sh.Fighters {
		committed = sh.Fighters
	}
	if committed == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "no fighters to commit")
	}
	if err := spendTurns(tx, playerID, 1); err != nil {
		return nil, err
	}

	attLoss, defLoss := exchange(committed, tgtFighters)
	sh.Fighters -= attLoss
	tgtFighters -= defLoss

	// Surplus attackers press through to the shields and hull.
	destroyed := false
	if tgtFighters == 0 {
		surplus := committed - attLoss
		absorbed := surplus
		if absorbed > tgtShields {
			absorbed = tgtShields
		}
		tgtShields -= absorbed
		tgtHull -= (surplus - absorbed) / 5
		if tgtHull <= 0 {
			destroyed = true
		}
	}

	if _, err := tx.Exec(`UPDATE ships SET fighters = ? WHERE id = ?`, sh.Fighters, sh.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET fighters = ?, shields = ?, hull = ? WHERE id = ?`,
		tgtFighters, tgtShields, tgtHull, in.ShipID); err != nil {
		return nil, err
	}

	defenderID, err := pilotOf(tx, in.ShipID)
	if err != nil {
		return nil, err
	}
	if destroyed {
		tgt := &Ship{ID: in.ShipID, SectorID: sh.SectorID}
		if defenderID != 0 {
			if err := destroyShip(tx, tgt, defenderID, "combat"); err != nil {
				return nil, err
			}
		} else if _, err := tx.Exec(`UPDATE ships SET destroyed = 1 WHERE id = ?`, in.ShipID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`UPDATE players SET experience = experience + 50, alignment = alignment - 20 WHERE id = ?`,
			playerID); err != nil {
			return nil, err
		}
	}
	if err := appendEvent(tx, "combat.resolved", playerID, sh.SectorID, map[string]any{
		"target_ship_id": in.ShipID, "attacker_losses": attLoss, "defender_losses": defLoss,
		"destroyed": destroyed,
	}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if defenderID != 0 {
		g.Cast.DeliverToPlayer(defenderID, "combat.under_attack_v1", map[string]any{
			"sector_id": sh.SectorID, "fighters_lost": defLoss, "ship_destroyed": destroyed,
		})
	}
	return proto.OK("combat.resolved_v1", map[string]any{
		"target_ship_id":   in.ShipID,
		"fighters_lost":    attLoss,
		"defender_losses":  defLoss,
		"target_destroyed": destroyed,
	}), nil
}

func cmdCombatStatus(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}

	type asset struct {
		Owner    string `json:"owner"`
		Quantity int64  `json:"quantity"`
		Mode     string `json:"mode,omitempty"`
		Kind     string `json:"kind,omitempty"`
	}
	var fighters, mines []asset

	rows, err := tx.Query(`SELECT owner_type, owner_id, quantity, mode FROM sector_fighters
		 WHERE sector_id = ? AND quantity > 0`, sh.SectorID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var a asset
		var ref OwnerRef
		if err := rows.Scan(&ref.Type, &ref.ID, &a.Quantity, &a.Mode); err != nil {
			rows.Close()
			return nil, err
		}
		a.Owner = fmtOwner(ref)
		fighters = append(fighters, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(`SELECT owner_type, owner_id, quantity, kind FROM sector_mines
		 WHERE sector_id = ? AND quantity > 0`, sh.SectorID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var a asset
		var ref OwnerRef
		if err := rows.Scan(&ref.Type, &ref.ID, &a.Quantity, &a.Kind); err != nil {
			rows.Close()
			return nil, err
		}
		a.Owner = fmtOwner(ref)
		mines = append(mines, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return proto.OK("combat.status_v1", map[string]any{
		"sector_id":     sh.SectorID,
		"ship_fighters": sh.Fighters,
		"ship_shields":  sh.Shields,
		"ship_hull":     sh.Hull,
		"fighters":      fighters,
		"mines":         mines,
	}), nil
}

func cmdCombatAttackPlanet(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlanetID int64 `json:"planet_id" validate:"required,min=1"`
		Fighters int64 `json:"fighters" validate:"min=0"`
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
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no combat in FedSpace")
	}
	p, err := loadPlanet(tx, in.PlanetID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return proto.Errorf(proto.ErrPlanetNotFound, "planet %d not found", in.PlanetID), nil
	}
	if p.SectorID != sh.SectorID {
		return nil, proto.Refuse(proto.RefNotHere, "%s is not in this sector", p.Name)
	}
	own, err := controls(tx, p, playerID)
	if err != nil {
		return nil, err
	}
	if own {
		return nil, proto.Refuse(proto.RefPrecondition, "cannot attack your own planet")
	}

	committed := in.Fighters
	if committed == 0 || committed > sh.Fighters {
		committed = sh.Fighters
	}
	if committed == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "no fighters to commit")
	}
	if err := spendTurns(tx, playerID, 1); err != nil {
		return nil, err
	}

	// Citadel levels stiffen the garrison.
	var level int64
	if err := tx.QueryRow(`SELECT level FROM citadels WHERE planet_id = ?`, p.ID).Scan(&level); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defense := p.Fighters + p.Fighters*level/4

	attLoss, defLoss := exchange(committed, defense)
	if defLoss > p.Fighters {
		defLoss = p.Fighters
	}
	sh.Fighters -= attLoss
	remaining := p.Fighters - defLoss

	captured := false
	if remaining == 0 && committed-attLoss > 0 {
		captured = true
		if _, err := tx.Exec(`UPDATE planets SET owner_type = 'player', owner_id = ?, fighters = 0 WHERE id = ?`,
			playerID, p.ID); err != nil {
			return nil, err
		}
	} else if _, err := tx.Exec(`UPDATE planets SET fighters = ? WHERE id = ?`, remaining, p.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET fighters = ? WHERE id = ?`, sh.Fighters, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "combat.planet_assault", playerID, sh.SectorID, map[string]any{
		"planet_id": p.ID, "attacker_losses": attLoss, "defender_losses": defLoss, "captured": captured,
	}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if p.OwnerType == "player" && p.OwnerID != 0 {
		g.Cast.DeliverToPlayer(p.OwnerID, "combat.planet_attacked_v1", map[string]any{
			"planet_id": p.ID, "fighters_lost": defLoss, "captured": captured,
		})
	}
	return proto.OK("combat.planet_resolved_v1", map[string]any{
		"planet_id": p.ID, "fighters_lost": attLoss, "defender_losses": defLoss, "captured": captured,
	}), nil
}

func cmdDeployFighters(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Quantity int64  `json:"quantity" validate:"required,min=1"`
		Mode     string `json:"mode" validate:"omitempty,oneof=defensive offensive toll"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Mode == "" {
		in.Mode = "defensive"
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
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no deployed assets in FedSpace")
	}
	res, err := tx.Exec(`UPDATE ships SET fighters = fighters - ? WHERE id = ? AND fighters >= ?`,
		in.Quantity, sh.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "only %d fighters aboard", sh.Fighters)
	}
	if _, err := tx.Exec(`
		INSERT INTO sector_fighters (sector_id, owner_type, owner_id, quantity, mode)
		VALUES (?, 'player', ?, ?, ?)
		ON CONFLICT(sector_id, owner_type, owner_id)
		DO UPDATE SET quantity = quantity + excluded.quantity, mode = excluded.mode`,
		sh.SectorID, playerID, in.Quantity, in.Mode); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "fighters.deployed", playerID, sh.SectorID,
		map[string]any{"quantity": in.Quantity, "mode": in.Mode}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("combat.fighters_deployed_v1", map[string]any{
		"sector_id": sh.SectorID, "quantity": in.Quantity, "mode": in.Mode,
	}), nil
}

func cmdLayMines(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Quantity int64  `json:"quantity" validate:"required,min=1"`
		Kind     string `json:"kind" validate:"omitempty,oneof=armid limpet"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Kind == "" {
		in.Kind = "armid"
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
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "no mines in FedSpace")
	}

	col := "mines"
	if in.Kind == "limpet" {
		col = "limpets"
	}
	res, err := tx.Exec(`UPDATE ships SET `+col+` = `+col+` - ? WHERE id = ? AND `+col+` >= ?`,
		in.Quantity, sh.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "not carrying %d %s mines", in.Quantity, in.Kind)
	}
	if _, err := tx.Exec(`
		INSERT INTO sector_mines (sector_id, owner_type, owner_id, kind, quantity, laid_at)
		VALUES (?, 'player', ?, ?, ?, ?)
		ON CONFLICT(sector_id, owner_type, owner_id, kind)
		DO UPDATE SET quantity = quantity + excluded.quantity`,
		sh.SectorID, playerID, in.Kind, in.Quantity, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "mines.laid", playerID, sh.SectorID,
		map[string]any{"quantity": in.Quantity, "kind": in.Kind}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("combat.mines_laid_v1", map[string]any{
		"sector_id": sh.SectorID, "quantity": in.Quantity, "kind": in.Kind,
	}), nil
}

func cmdSweepMines(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
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
	if sh.Fighters == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "sweeping needs fighters")
	}
	if err := spendTurns(tx, playerID, 1); err != nil {
		return nil, err
	}

	var hostile int64
	if err := tx.QueryRow(`
		SELECT COALESCE(SUM(quantity),0) FROM sector_mines
		 WHERE sector_id = ? AND kind = 'armid' AND NOT (owner_type = 'player' AND owner_id = ?)`,
		sh.SectorID, playerID).Scan(&hostile); err != nil {
		return nil, err
	}
	if hostile == 0 {
		return proto.OK("combat.mines_swept_v1", map[string]any{"swept": 0, "fighters_lost": 0}), nil
	}

	swept := hostile
	if swept > sh.Fighters*2 {
		swept = sh.Fighters * 2
	}
	lost := (swept + 2) / 3
	if lost > sh.Fighters {
		lost = sh.Fighters
	}

	// Burn down hostile stacks until the swept quota is spent.
	rows, err := tx.Query(`
		SELECT owner_type, owner_id, quantity FROM sector_mines
		 WHERE sector_id = ? AND kind = 'armid' AND quantity > 0
		   AND NOT (owner_type = 'player' AND owner_id = ?)`, sh.SectorID, playerID)
	if err != nil {
		return nil, err
	}
	type stack struct {
		ref OwnerRef
		qty int64
	}
	var stacks []stack
	for rows.Next() {
		var s stack
		if err := rows.Scan(&s.ref.Type, &s.ref.ID, &s.qty); err != nil {
			rows.Close()
			return nil, err
		}
		stacks = append(stacks, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	left := swept
	for _, s := range stacks {
		take := s.qty
		if take > left {
			take = left
		}
		if _, err := tx.Exec(`
			UPDATE sector_mines SET quantity = quantity - ?
			 WHERE sector_id = ? AND kind = 'armid' AND owner_type = ? AND owner_id = ?`,
			take, sh.SectorID, s.ref.Type, s.ref.ID); err != nil {
			return nil, err
		}
		left -= take
		if left == 0 {
			break
		}
	}

	if _, err := tx.Exec(`UPDATE ships SET fighters = fighters - ? WHERE id = ?`, lost, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "mines.swept", playerID, sh.SectorID,
		map[string]any{"swept": swept, "fighters_lost": lost}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("combat.mines_swept_v1", map[string]any{"swept": swept, "fighters_lost": lost}), nil
}

func cmdScrubMines(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
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
	if sh.Detonators == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "scrubbing needs mine detonators")
	}

	var hostile int64
	if err := tx.QueryRow(`
		SELECT COALESCE(SUM(quantity),0) FROM sector_mines
		 WHERE sector_id = ? AND kind = 'limpet' AND NOT (owner_type = 'player' AND owner_id = ?)`,
		sh.SectorID, playerID).Scan(&hostile); err != nil {
		return nil, err
	}
	scrubbed := hostile
	if scrubbed > sh.Detonators {
		scrubbed = sh.Detonators
	}
	if scrubbed > 0 {
		left := scrubbed
		rows, err := tx.Query(`
			SELECT owner_type, owner_id, quantity FROM sector_mines
			 WHERE sector_id = ? AND kind = 'limpet' AND quantity > 0
			   AND NOT (owner_type = 'player' AND owner_id = ?)`, sh.SectorID, playerID)
		if err != nil {
			return nil, err
		}
		type stack struct {
			ref OwnerRef
			qty int64
		}
		var stacks []stack
		for rows.Next() {
			var s stack
			if err := rows.Scan(&s.ref.Type, &s.ref.ID, &s.qty); err != nil {
				rows.Close()
				return nil, err
			}
			stacks = append(stacks, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, s := range stacks {
			take := s.qty
			if take > left {
				take = left
			}
			if _, err := tx.Exec(`
				UPDATE sector_mines SET quantity = quantity - ?
				 WHERE sector_id = ? AND kind = 'limpet' AND owner_type = ? AND owner_id = ?`,
				take, sh.SectorID, s.ref.Type, s.ref.ID); err != nil {
				return nil, err
			}
			left -= take
			if left == 0 {
				break
			}
		}
		if _, err := tx.Exec(`UPDATE ships SET detonators = detonators - ? WHERE id = ?`, scrubbed, sh.ID); err != nil {
			return nil, err
		}
		if err := appendEvent(tx, "mines.scrubbed", playerID, sh.SectorID,
			map[string]any{"scrubbed": scrubbed}, req.IdempotencyKey); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("combat.mines_scrubbed_v1", map[string]any{"scrubbed": scrubbed}), nil
}

// recallDeployed pulls a deployed stack back aboard, capped by the ship
// type's capacity for the column.
func recallDeployed(g *Game, c *bus.Client, req *proto.Request, table, kind, shipCol string, capOf func(*Ship) int64, event, typ string) (*proto.Response, error) {
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

	q := `SELECT COALESCE(SUM(quantity),0) FROM ` + table + ` WHERE sector_id = ? AND owner_type = 'player' AND owner_id = ?`
	args := []any{sh.SectorID, playerID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	var deployed int64
	if err := tx.QueryRow(q, args...).Scan(&deployed); err != nil {
		return nil, err
	}
	if deployed == 0 {
		return nil, proto.Refuse(proto.RefNotHere, "nothing of yours deployed here")
	}

	var aboard int64
	if err := tx.QueryRow(`SELECT `+shipCol+` FROM ships WHERE id = ?`, sh.ID).Scan(&aboard); err != nil {
		return nil, err
	}
	take := deployed
	if room := capOf(sh) - aboard; take > room {
		take = room
	}
	if take <= 0 {
		return nil, proto.Refuse(proto.RefHoldsExceeded, "no capacity aboard")
	}

	upd := `UPDATE ` + table + ` SET quantity = quantity - ? WHERE sector_id = ? AND owner_type = 'player' AND owner_id = ?`
	args = []any{take, sh.SectorID, playerID}
	if kind != "" {
		upd += ` AND kind = ?`
		args = append(args, kind)
	}
	if _, err := tx.Exec(upd, args...); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET `+shipCol+` = `+shipCol+` + ? WHERE id = ?`, take, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, event, playerID, sh.SectorID,
		map[string]any{"quantity": take}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK(typ, map[string]any{"recalled": take, "left_deployed": deployed - take}), nil
}

func cmdFightersRecall(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	return recallDeployed(g, c, req, "sector_fighters", "", "fighters",
		func(s *Ship) int64 { return s.MaxFighters }, "fighters.recalled", "fighters.recalled_v1")
}

func cmdMinesRecall(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	return recallDeployed(g, c, req, "sector_mines", "armid", "mines",
		func(s *Ship) int64 { return s.MaxMines }, "mines.recalled", "mines.recalled_v1")
}

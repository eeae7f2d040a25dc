package game

import (
	"database/sql"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

func shipPayload(sh *Ship) map[string]any {
	return map[string]any{
		"ship_id":   sh.ID,
		"name":      sh.Name,
		"type":      sh.TypeName,
		"sector_id": sh.SectorID,
		"holds":     sh.Holds,
		"cargo": map[string]int64{
			"ore": sh.Ore, "organics": sh.Organics, "equipment": sh.Equipment,
			"colonists": sh.Colonists, "illegal_goods": sh.IllegalGoods,
		},
		"loadout": map[string]int64{
			"fighters": sh.Fighters, "shields": sh.Shields, "mines": sh.Mines,
			"limpets": sh.Limpets, "photons": sh.Photons, "probes": sh.Probes,
			"detonators": sh.Detonators, "genesis": sh.Genesis,
		},
		"hull":    sh.Hull,
		"cloaked": sh.Cloaked,
		"docked":  sh.Docked,
	}
}

func cmdShipStatus(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	return proto.OK("ship.status_v1", shipPayload(sh)), nil
}

func cmdShipRename(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Name string `json:"name" validate:"required,min=1,max=40"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET name = ? WHERE id = ?`, in.Name, sh.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.renamed_v1", map[string]any{"ship_id": sh.ID, "name": in.Name}), nil
}

func cmdShipClaim(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShipID int64 `json:"ship_id" validate:"required,min=1"`
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

	var targetSector int64
	err = tx.QueryRow(`SELECT sector_id FROM ships WHERE id = ? AND destroyed = 0`, in.ShipID).Scan(&targetSector)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no such ship")
	}
	if err != nil {
		return nil, err
	}
	if targetSector != sh.SectorID {
		return nil, proto.Refuse(proto.RefNotHere, "that ship is not in this sector")
	}
	var owners int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM ship_ownership WHERE ship_id = ?`, in.ShipID).Scan(&owners); err != nil {
		return nil, err
	}
	if owners > 0 {
		return nil, proto.Refuse(proto.RefPermissionDenied, "that ship is not abandoned")
	}
	if _, err := tx.Exec(`INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 0)`,
		playerID, in.ShipID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "ship.claimed", playerID, sh.SectorID,
		map[string]any{"ship_id": in.ShipID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.claimed_v1", map[string]any{"ship_id": in.ShipID}), nil
}

func cmdShipSell(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShipID int64 `json:"ship_id" validate:"required,min=1"`
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
	var active int64
	if err := tx.QueryRow(`SELECT active_ship FROM players WHERE id = ?`, playerID).Scan(&active); err != nil {
		return nil, err
	}
	if in.ShipID == active {
		return nil, proto.Refuse(proto.RefPrecondition, "cannot sell the ship you are flying")
	}
	var owned int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM ship_ownership WHERE ship_id = ? AND player_id = ?`,
		in.ShipID, playerID).Scan(&owned); err != nil {
		return nil, err
	}
	if owned == 0 {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your ship")
	}
	var cost int64
	err = tx.QueryRow(`
		SELECT t.base_cost FROM ships s JOIN shiptypes t ON t.id = s.type_id
		 WHERE s.id = ? AND s.destroyed = 0`, in.ShipID).Scan(&cost)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no such ship")
	}
	if err != nil {
		return nil, err
	}

	scrap := cost / 2
	if _, err := tx.Exec(`UPDATE ships SET destroyed = 1 WHERE id = ?`, in.ShipID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM ship_ownership WHERE ship_id = ?`, in.ShipID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, scrap, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "ship.sold", playerID, 0,
		map[string]any{"ship_id": in.ShipID, "scrap": scrap}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.sold_v1", map[string]any{"ship_id": in.ShipID, "scrap": scrap}), nil
}

func cmdShipTransfer(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShipID int64  `json:"ship_id" validate:"required,min=1"`
		To     string `json:"to" validate:"required"`
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
	var active int64
	if err := tx.QueryRow(`SELECT active_ship FROM players WHERE id = ?`, playerID).Scan(&active); err != nil {
		return nil, err
	}
	if in.ShipID == active {
		return nil, proto.Refuse(proto.RefPrecondition, "cannot give away the ship you are flying")
	}
	var toID int64
	err = tx.QueryRow(`SELECT id FROM players WHERE name = ? AND destroyed = 0`, in.To).Scan(&toID)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no player named %q", in.To)
	}
	if err != nil {
		return nil, err
	}
	res, err := tx.Exec(`UPDATE ship_ownership SET player_id = ? WHERE ship_id = ? AND player_id = ?`,
		toID, in.ShipID, playerID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your ship")
	}
	if err := appendEvent(tx, "ship.transferred", playerID, 0,
		map[string]any{"ship_id": in.ShipID, "to": toID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	g.Cast.DeliverToPlayer(toID, "ship.received_v1", map[string]any{"ship_id": in.ShipID})
	return proto.OK("ship.transferred_v1", map[string]any{"ship_id": in.ShipID, "to": in.To}), nil
}

func cmdShipRepair(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	sh, _, err := portHere(tx, playerID)
	if err != nil {
		return nil, err
	}
	missing := sh.MaxHull - sh.Hull
	if missing <= 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "hull already at %d", sh.Hull)
	}
	cost := missing * 50
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		cost, playerID, cost)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "repairs cost %d", cost).
			WithMeta(map[string]any{"missing": map[string]any{"credits": cost}})
	}
	if _, err := tx.Exec(`UPDATE ships SET hull = ? WHERE id = ?`, sh.MaxHull, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "ship.repaired", playerID, sh.SectorID,
		map[string]any{"ship_id": sh.ID, "cost": cost}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.repaired_v1", map[string]any{"hull": sh.MaxHull, "cost": cost}), nil
}

func cmdShipUpgrade(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Holds int64 `json:"holds" validate:"required,min=1,max=100"`
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
	sh, _, err := portHere(tx, playerID)
	if err != nil {
		return nil, err
	}
	if sh.Holds+in.Holds > sh.MaxHolds {
		return nil, proto.Refuse(proto.RefPrecondition, "%s caps out at %d holds", sh.TypeName, sh.MaxHolds)
	}
	cost := in.Holds * 400
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		cost, playerID, cost)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "upgrade costs %d", cost)
	}
	if _, err := tx.Exec(`UPDATE ships SET holds = holds + ? WHERE id = ?`, in.Holds, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "ship.upgraded", playerID, sh.SectorID,
		map[string]any{"ship_id": sh.ID, "holds_added": in.Holds}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.upgraded_v1", map[string]any{"holds": sh.Holds + in.Holds, "cost": cost}), nil
}

func cmdShipSelfDestruct(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	// A pointer so an explicit {"confirm": false} reads as a declined
	// confirmation, not a malformed request.
	var in struct {
		Confirm *bool `json:"confirm"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Confirm == nil || !*in.Confirm {
		return nil, proto.Refuse(proto.RefPrecondition, "send confirm: true to scuttle the ship")
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
	if err := destroyShip(tx, sh, playerID, "self_destruct"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.self_destructed_v1", map[string]any{"ship_id": sh.ID}), nil
}

func cmdShipTow(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShipID int64 `json:"ship_id" validate:"required,min=1"`
		To     int64 `json:"to" validate:"required,min=1"`
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
	var owned int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM ship_ownership WHERE ship_id = ? AND player_id = ?`,
		in.ShipID, playerID).Scan(&owned); err != nil {
		return nil, err
	}
	if owned == 0 {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your ship")
	}
	var towSector int64
	err = tx.QueryRow(`SELECT sector_id FROM ships WHERE id = ? AND destroyed = 0`, in.ShipID).Scan(&towSector)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no such ship")
	}
	if err != nil {
		return nil, err
	}
	if towSector != sh.SectorID {
		return nil, proto.Refuse(proto.RefNotHere, "the tow target is not in this sector")
	}
	var linked int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sector_warps WHERE from_sector = ? AND to_sector = ?`,
		sh.SectorID, in.To).Scan(&linked); err != nil {
		return nil, err
	}
	if linked == 0 {
		return nil, proto.Refuse(proto.RefNoWarpLink, "no warp link %d -> %d", sh.SectorID, in.To)
	}
	if err := spendTurns(tx, playerID, 2); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET sector_id = ? WHERE id IN (?, ?)`, in.To, sh.ID, in.ShipID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "ship.towed", playerID, in.To,
		map[string]any{"ship_id": in.ShipID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("ship.towed_v1", map[string]any{"ship_id": in.ShipID, "sector_id": in.To}), nil
}

func cmdShipList(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT s.id, s.name, t.name, s.sector_id, o.is_primary
		  FROM ship_ownership o
		  JOIN ships s ON s.id = o.ship_id AND s.destroyed = 0
		  JOIN shiptypes t ON t.id = s.type_id
		 WHERE o.player_id = ? ORDER BY s.id`, c.PlayerID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct {
		ID        int64  `json:"ship_id"`
		Name      string `json:"name"`
		Type      string `json:"type"`
		SectorID  int64  `json:"sector_id"`
		IsPrimary int64  `json:"is_primary"`
	}
	var ships []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.SectorID, &e.IsPrimary); err != nil {
			return nil, err
		}
		ships = append(ships, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("ship.list_v1", map[string]any{"ships": ships}), nil
}

package game

import (
	"database/sql"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

// hardwareCaps maps a hardware item's ships column to the shiptypes column
// bounding it. Items absent here stack without limit.
var hardwareCaps = map[string]string{
	"fighters": "max_fighters",
	"shields":  "max_shields",
	"mines":    "max_mines",
	"limpets":  "max_limpets",
	"photons":  "max_photons",
	"genesis":  "max_genesis",
}

func (g *Game) stardockSector(q store.Queryer) int64 {
	return g.Store.ConfigInt(q, "stardock_sector", 1)
}

func atStardock(g *Game, tx *sql.Tx, playerID int64) (*Ship, error) {
	sh, err := loadShip(tx, playerID)
	if err != nil {
		return nil, err
	}
	if dock := g.stardockSector(tx); sh.SectorID != dock {
		return nil, proto.Refuse(proto.RefNotHere, "stardock services are in sector %d", dock)
	}
	return sh, nil
}

func cmdStardockInfo(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	dock := g.stardockSector(tx)
	var name string
	if err := tx.QueryRow(`SELECT name FROM ports WHERE sector_id = ? ORDER BY id LIMIT 1`, dock).Scan(&name); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return proto.OK("stardock.info_v1", map[string]any{
		"sector_id": dock,
		"name":      name,
		"present":   sh.SectorID == dock,
		"services":  []string{"hardware", "shipyard", "repairs", "tavern"},
	}), nil
}

func cmdHardwareList(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`SELECT code, name, unit_price FROM hardware_items ORDER BY unit_price`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type item struct {
		Code      string `json:"code"`
		Name      string `json:"name"`
		UnitPrice int64  `json:"unit_price"`
	}
	var items []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.Code, &it.Name, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("hardware.list_v1", map[string]any{"items": items}), nil
}

func cmdHardwareBuy(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Code     string `json:"code" validate:"required"`
		Quantity int64  `json:"quantity" validate:"required,min=1"`
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
	sh, err := atStardock(g, tx, playerID)
	if err != nil {
		return nil, err
	}

	var unitPrice int64
	var shipCol string
	err = tx.QueryRow(`SELECT unit_price, ship_column FROM hardware_items WHERE code = ?`, in.Code).
		Scan(&unitPrice, &shipCol)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no hardware item %q", in.Code)
	}
	if err != nil {
		return nil, err
	}

	if maxCol, capped := hardwareCaps[shipCol]; capped {
		var aboard, limit int64
		if err := tx.QueryRow(`SELECT s.`+shipCol+`, t.`+maxCol+` FROM ships s
			 JOIN shiptypes t ON t.id = s.type_id WHERE s.id = ?`, sh.ID).Scan(&aboard, &limit); err != nil {
			return nil, err
		}
		if aboard+in.Quantity > limit {
			return nil, proto.Refuse(proto.RefHoldsExceeded, "%s can carry %d more", sh.TypeName, limit-aboard)
		}
	}

	total := unitPrice * in.Quantity
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		total, playerID, total)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "that costs %d credits", total)
	}
	if _, err := tx.Exec(`UPDATE ships SET `+shipCol+` = `+shipCol+` + ? WHERE id = ?`, in.Quantity, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "hardware.bought", playerID, sh.SectorID,
		map[string]any{"code": in.Code, "quantity": in.Quantity, "total": total}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("hardware.bought_v1", map[string]any{
		"code": in.Code, "quantity": in.Quantity, "total": total,
	}), nil
}

func cmdShipyardList(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT t.id, t.name, t.base_cost, t.max_holds, t.max_fighters, t.max_shields,
		       t.min_experience, t.min_alignment, t.commission_req
		  FROM shiptypes t JOIN shipyard_inventory i ON i.shiptype_id = t.id
		 WHERE i.in_stock = 1 ORDER BY t.base_cost`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hull struct {
		ID            int64  `json:"shiptype_id"`
		Name          string `json:"name"`
		BaseCost      int64  `json:"base_cost"`
		MaxHolds      int64  `json:"max_holds"`
		MaxFighters   int64  `json:"max_fighters"`
		MaxShields    int64  `json:"max_shields"`
		MinExperience int64  `json:"min_experience"`
		MinAlignment  int64  `json:"min_alignment"`
		Commission    string `json:"commission_req,omitempty"`
	}
	var hulls []hull
	for rows.Next() {
		var h hull
		if err := rows.Scan(&h.ID, &h.Name, &h.BaseCost, &h.MaxHolds, &h.MaxFighters,
			&h.MaxShields, &h.MinExperience, &h.MinAlignment, &h.Commission); err != nil {
			return nil, err
		}
		hulls = append(hulls, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("shipyard.list_v1", map[string]any{"hulls": hulls}), nil
}

func cmdShipyardUpgrade(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		ShiptypeID int64  `json:"shiptype_id" validate:"required,min=1"`
		Name       string `json:"name" validate:"omitempty,min=1,max=40"`
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
	sh, err := atStardock(g, tx, playerID)
	if err != nil {
		return nil, err
	}
	if in.ShiptypeID == sh.TypeID {
		return nil, proto.Refuse(proto.RefPrecondition, "already flying a %s", sh.TypeName)
	}

	var inStock int64
	err = tx.QueryRow(`SELECT in_stock FROM shipyard_inventory WHERE shiptype_id = ?`, in.ShiptypeID).Scan(&inStock)
	if err == sql.ErrNoRows || (err == nil && inStock == 0) {
		return nil, proto.Refuse(proto.RefNotHere, "that hull is not in stock")
	}
	if err != nil {
		return nil, err
	}

	var baseCost, maxHolds, maxHull, minExp, minAlign int64
	var typeName, commissionReq string
	if err := tx.QueryRow(`
		SELECT name, base_cost, max_holds, max_hull, min_experience, min_alignment, commission_req
		  FROM shiptypes WHERE id = ?`, in.ShiptypeID).
		Scan(&typeName, &baseCost, &maxHolds, &maxHull, &minExp, &minAlign, &commissionReq); err != nil {
		return nil, err
	}

	var exp, align int64
	var commission string
	if err := tx.QueryRow(`SELECT experience, alignment, commission FROM players WHERE id = ?`, playerID).
		Scan(&exp, &align, &commission); err != nil {
		return nil, err
	}
	if exp < minExp {
		return nil, proto.Refuse(proto.RefPermissionDenied, "%s requires %d experience", typeName, minExp)
	}
	if align < minAlign {
		return nil, proto.Refuse(proto.RefPermissionDenied, "%s requires alignment %d", typeName, minAlign)
	}
	if commissionReq != "" && commission != commissionReq {
		return nil, proto.Refuse(proto.RefPermissionDenied, "%s requires a %s commission", typeName, commissionReq)
	}

	newHolds := maxHolds / 2
	if sh.CargoUsed() > newHolds {
		return nil, proto.Refuse(proto.RefHoldsExceeded, "cargo will not fit in %d holds", newHolds)
	}

	// Old hull trades in at half its book value.
	var tradeIn int64
	if err := tx.QueryRow(`SELECT base_cost / 2 FROM shiptypes WHERE id = ?`, sh.TypeID).Scan(&tradeIn); err != nil {
		return nil, err
	}
	price := baseCost - tradeIn
	if price > 0 {
		res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
			price, playerID, price)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, proto.Refuse(proto.RefInsufficientFunds, "that costs %d credits after trade-in", price)
		}
	} else if price < 0 {
		if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, -price, playerID); err != nil {
			return nil, err
		}
	}

	name := in.Name
	if name == "" {
		name = sh.Name
	}
	res, err := tx.Exec(`
		INSERT INTO ships (name, type_id, sector_id, holds, ore, organics, equipment, colonists, hull)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, in.ShiptypeID, sh.SectorID, newHolds, sh.Ore, sh.Organics, sh.Equipment, sh.Colonists, maxHull)
	if err != nil {
		return nil, err
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET destroyed = 1 WHERE id = ?`, sh.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM ship_ownership WHERE ship_id = ?`, sh.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO ship_ownership (player_id, ship_id, role, is_primary) VALUES (?, ?, 'Pilot', 1)`,
		playerID, newID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET active_ship = ? WHERE id = ?`, newID, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "shipyard.upgraded", playerID, sh.SectorID, map[string]any{
		"old_ship_id": sh.ID, "new_ship_id": newID, "shiptype_id": in.ShiptypeID, "price": price,
	}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("shipyard.upgraded_v1", map[string]any{
		"ship_id": newID, "shiptype_id": in.ShiptypeID, "name": name, "price": price,
	}), nil
}

package game

import (
	"database/sql"
	"math/rand"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

type planetRow struct {
	ID, SectorID, Population, Colonists int64
	Ore, Organics, Equipment, Fighters  int64
	OwnerID                             int64
	Name, Class, OwnerType              string
}

func loadPlanet(tx *sql.Tx, id int64) (*planetRow, error) {
	p := &planetRow{}
	err := tx.QueryRow(`
		SELECT id, sector_id, population, colonists, ore_on_hand, organics_on_hand,
		       equipment_on_hand, fighters, owner_id, name, class, owner_type
		  FROM planets WHERE id = ?`, id).Scan(
		&p.ID, &p.SectorID, &p.Population, &p.Colonists, &p.Ore, &p.Organics,
		&p.Equipment, &p.Fighters, &p.OwnerID, &p.Name, &p.Class, &p.OwnerType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// controls reports whether the player may manage the planet: direct
// ownership, or Officer+ in the owning corp.
func controls(tx *sql.Tx, p *planetRow, playerID int64) (bool, error) {
	switch p.OwnerType {
	case "player":
		return p.OwnerID == playerID, nil
	case "corp":
		corpID, role, err := playerCorp(tx, playerID)
		if err != nil {
			return false, err
		}
		return corpID == p.OwnerID && (role == "Leader" || role == "Officer"), nil
	}
	return false, nil
}

func cmdPlanetLand(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlanetID int64 `json:"planet_id" validate:"required,min=1"`
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
	if _, err := tx.Exec(`UPDATE ships SET landed_planet = ? WHERE id = ?`, p.ID, sh.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.landed_v1", map[string]any{"planet_id": p.ID, "name": p.Name}), nil
}

func cmdPlanetLaunch(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if sh.LandedPlanet == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "not landed")
	}
	if _, err := tx.Exec(`UPDATE ships SET landed_planet = 0 WHERE id = ?`, sh.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.launched_v1", map[string]any{"sector_id": sh.SectorID}), nil
}

func cmdPlanetInfo(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlanetID int64 `json:"planet_id" validate:"required,min=1"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	p, err := loadPlanet(tx, in.PlanetID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return proto.Errorf(proto.ErrPlanetNotFound, "planet %d not found", in.PlanetID), nil
	}
	out := map[string]any{
		"planet_id": p.ID, "name": p.Name, "class": p.Class, "sector_id": p.SectorID,
		"owner": map[string]any{"type": p.OwnerType, "id": p.OwnerID},
	}
	ok, err := controls(tx, p, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if ok {
		out["population"] = p.Population
		out["colonists"] = p.Colonists
		out["stockpiles"] = map[string]int64{"ore": p.Ore, "organics": p.Organics, "equipment": p.Equipment}
		out["fighters"] = p.Fighters
		var level int64
		var status string
		err := tx.QueryRow(`SELECT level, construction_status FROM citadels WHERE planet_id = ?`, p.ID).
			Scan(&level, &status)
		if err == nil {
			out["citadel"] = map[string]any{"level": level, "status": status}
		} else if err != sql.ErrNoRows {
			return nil, err
		}
	}
	return proto.OK("planet.info_v1", out), nil
}

func cmdPlanetRename(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlanetID int64  `json:"planet_id" validate:"required,min=1"`
		Name     string `json:"name" validate:"required,min=1,max=40"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	p, err := loadPlanet(tx, in.PlanetID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return proto.Errorf(proto.ErrPlanetNotFound, "planet %d not found", in.PlanetID), nil
	}
	ok, err := controls(tx, p, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your planet")
	}
	if _, err := tx.Exec(`UPDATE planets SET name = ? WHERE id = ?`, in.Name, p.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.renamed_v1", map[string]any{"planet_id": p.ID, "name": in.Name}), nil
}

func cmdPlanetClaim(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
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
	if sh.LandedPlanet == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "land on the planet first")
	}
	p, err := loadPlanet(tx, sh.LandedPlanet)
	if err != nil {
		return nil, err
	}
	if p.OwnerType != "system" || p.ID == 1 {
		return nil, proto.Refuse(proto.RefConflict, "%s is already held", p.Name)
	}
	if _, err := tx.Exec(`UPDATE planets SET owner_type = 'player', owner_id = ? WHERE id = ?`,
		playerID, p.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "planet.claimed", playerID, p.SectorID,
		map[string]any{"planet_id": p.ID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.claimed_v1", map[string]any{"planet_id": p.ID}), nil
}

var planetStockColumns = map[string]string{
	"ORE": "ore_on_hand", "ORG": "organics_on_hand", "EQU": "equipment_on_hand", "COL": "colonists",
}
var shipStockColumns = map[string]string{
	"ORE": "ore", "ORG": "organics", "EQU": "equipment", "COL": "colonists",
}

type planetGoodsInput struct {
	Commodity string `json:"commodity" validate:"required,oneof=ORE ORG EQU COL"`
	Quantity  int64  `json:"quantity" validate:"required,min=1"`
}

func planetTransferCtx(g *Game, c *bus.Client) (*sql.Tx, *Ship, *planetRow, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, nil, nil, err
	}
	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		g.Store.Rollback(tx)
		return nil, nil, nil, err
	}
	if sh.LandedPlanet == 0 {
		g.Store.Rollback(tx)
		return nil, nil, nil, proto.Refuse(proto.RefPrecondition, "land on a planet first")
	}
	p, err := loadPlanet(tx, sh.LandedPlanet)
	if err != nil {
		g.Store.Rollback(tx)
		return nil, nil, nil, err
	}
	return tx, sh, p, nil
}

func cmdPlanetDeposit(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in planetGoodsInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	tx, sh, p, err := planetTransferCtx(g, c)
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	shipCol, planetCol := shipStockColumns[in.Commodity], planetStockColumns[in.Commodity]
	res, err := tx.Exec(`UPDATE ships SET `+shipCol+` = `+shipCol+` - ? WHERE id = ? AND `+shipCol+` >= ?`,
		in.Quantity, sh.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "not carrying %d %s", in.Quantity, in.Commodity)
	}
	if _, err := tx.Exec(`UPDATE planets SET `+planetCol+` = `+planetCol+` + ? WHERE id = ?`,
		in.Quantity, p.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "planet.deposit", c.PlayerID(), p.SectorID,
		map[string]any{"planet_id": p.ID, "commodity": in.Commodity, "quantity": in.Quantity},
		req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.deposited_v1", map[string]any{
		"planet_id": p.ID, "commodity": in.Commodity, "quantity": in.Quantity,
	}), nil
}

func cmdPlanetWithdraw(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in planetGoodsInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	tx, sh, p, err := planetTransferCtx(g, c)
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	ok, err := controls(tx, p, c.PlayerID())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your planet")
	}
	if sh.CargoUsed()+in.Quantity > sh.Holds {
		return nil, proto.Refuse(proto.RefHoldsExceeded, "only %d holds free", sh.Holds-sh.CargoUsed())
	}

	shipCol, planetCol := shipStockColumns[in.Commodity], planetStockColumns[in.Commodity]
	res, err := tx.Exec(`UPDATE planets SET `+planetCol+` = `+planetCol+` - ? WHERE id = ? AND `+planetCol+` >= ?`,
		in.Quantity, p.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "planet lacks %d %s", in.Quantity, in.Commodity)
	}
	if _, err := tx.Exec(`UPDATE ships SET `+shipCol+` = `+shipCol+` + ? WHERE id = ?`,
		in.Quantity, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "planet.withdraw", c.PlayerID(), p.SectorID,
		map[string]any{"planet_id": p.ID, "commodity": in.Commodity, "quantity": in.Quantity},
		req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.withdrawn_v1", map[string]any{
		"planet_id": p.ID, "commodity": in.Commodity, "quantity": in.Quantity,
	}), nil
}

func cmdPlanetGenesis(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
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

	playerID := c.PlayerID()
	sh, err := loadShip(tx, playerID)
	if err != nil {
		return nil, err
	}
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "genesis devices are banned in FedSpace")
	}
	if sh.Genesis < 1 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "no genesis torpedo aboard")
	}

	classes := "MLOKHUC"
	class := string(classes[rand.Intn(len(classes))])
	res, err := tx.Exec(`
		INSERT INTO planets (sector_id, name, class, owner_type, owner_id, created_at)
		VALUES (?, ?, ?, 'player', ?, ?)`,
		sh.SectorID, in.Name, class, playerID, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	planetID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET genesis = genesis - 1 WHERE id = ?`, sh.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "planet.genesis", playerID, sh.SectorID,
		map[string]any{"planet_id": planetID, "class": class}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("planet.genesis_v1", map[string]any{"planet_id": planetID, "class": class, "name": in.Name}), nil
}

func cmdCitadelBuild(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
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
	if sh.LandedPlanet == 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "land on the planet first")
	}
	p, err := loadPlanet(tx, sh.LandedPlanet)
	if err != nil {
		return nil, err
	}
	ok, err := controls(tx, p, playerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your planet")
	}
	res, err := tx.Exec(`INSERT OR IGNORE INTO citadels (planet_id) VALUES (?)`, p.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefConflict, "%s already has a citadel site", p.Name)
	}
	if err := appendEvent(tx, "citadel.site_built", playerID, p.SectorID,
		map[string]any{"planet_id": p.ID}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("citadel.built_v1", map[string]any{"planet_id": p.ID, "level": 0}), nil
}

func cmdCitadelUpgrade(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		PlanetID int64 `json:"planet_id" validate:"required,min=1"`
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
	p, err := loadPlanet(tx, in.PlanetID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return proto.Errorf(proto.ErrPlanetNotFound, "planet %d not found", in.PlanetID), nil
	}
	ok, err := controls(tx, p, playerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, proto.Refuse(proto.RefPermissionDenied, "not your planet")
	}

	var level int64
	var status string
	err = tx.QueryRow(`SELECT level, construction_status FROM citadels WHERE planet_id = ?`, p.ID).
		Scan(&level, &status)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefPrecondition, "build the citadel site first")
	}
	if err != nil {
		return nil, err
	}
	if status != "idle" {
		return nil, proto.Refuse(proto.RefAlreadyInProgress, "construction already underway")
	}
	if level >= 6 {
		return nil, proto.Refuse(proto.RefPrecondition, "citadel is at maximum level")
	}

	target := level + 1
	var needOre, needOrg, needEqu, needCol, days int64
	if err := tx.QueryRow(`SELECT ore, organics, equipment, colonists, days FROM citadel_requirements WHERE level = ?`,
		target).Scan(&needOre, &needOrg, &needEqu, &needCol, &days); err != nil {
		return nil, err
	}

	missing := map[string]any{}
	if p.Ore < needOre {
		missing["ore"] = needOre - p.Ore
	}
	if p.Organics < needOrg {
		missing["organics"] = needOrg - p.Organics
	}
	if p.Equipment < needEqu {
		missing["equipment"] = needEqu - p.Equipment
	}
	if p.Colonists < needCol {
		missing["colonists"] = needCol - p.Colonists
	}
	if len(missing) > 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "planet lacks construction materials").
			WithMeta(map[string]any{"missing": missing})
	}

	now := time.Now().Unix()
	end := now + days*86400
	if _, err := tx.Exec(`
		UPDATE planets SET ore_on_hand = ore_on_hand - ?, organics_on_hand = organics_on_hand - ?,
		       equipment_on_hand = equipment_on_hand - ? WHERE id = ?`,
		needOre, needOrg, needEqu, p.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		UPDATE citadels SET construction_status = 'upgrading', target_level = ?, start_ts = ?, end_ts = ?
		 WHERE planet_id = ?`, target, now, end, p.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "citadel.upgrade_started", playerID, p.SectorID,
		map[string]any{"planet_id": p.ID, "target_level": target, "end_ts": end},
		req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("citadel.upgrade_started", map[string]any{
		"planet_id": p.ID, "target_level": target, "end_ts": end,
	}), nil
}

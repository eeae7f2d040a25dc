package game

import (
	"database/sql"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

// scanSector assembles the standard sector snapshot used by sector.scan and
// returned after every successful move.
func scanSector(tx *sql.Tx, sectorID, viewerID int64) (map[string]any, error) {
	var name string
	var beacon, nebula sql.NullString
	var safe int64
	err := tx.QueryRow(`SELECT name, beacon, nebula, safe_zone FROM sectors WHERE id = ?`, sectorID).
		Scan(&name, &beacon, &nebula, &safe)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "sector %d not found", sectorID)
	}
	if err != nil {
		return nil, err
	}

	var warps []int64
	rows, err := tx.Query(`SELECT to_sector FROM sector_warps WHERE from_sector = ? ORDER BY to_sector`, sectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var to int64
		if err := rows.Scan(&to); err != nil {
			return nil, err
		}
		warps = append(warps, to)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var portPresent int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM ports WHERE sector_id = ?`, sectorID).Scan(&portPresent); err != nil {
		return nil, err
	}

	type planetBrief struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Class string `json:"class"`
	}
	var planets []planetBrief
	prows, err := tx.Query(`SELECT id, name, class FROM planets WHERE sector_id = ? ORDER BY id`, sectorID)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var p planetBrief
		if err := prows.Scan(&p.ID, &p.Name, &p.Class); err != nil {
			return nil, err
		}
		planets = append(planets, p)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	type shipBrief struct {
		Player string `json:"player"`
		Ship   string `json:"ship"`
		Type   string `json:"type"`
	}
	var others []shipBrief
	srows, err := tx.Query(`
		SELECT p.name, s.name, t.name
		  FROM ships s
		  JOIN players p ON p.active_ship = s.id
		  JOIN shiptypes t ON t.id = s.type_id
		 WHERE s.sector_id = ? AND s.destroyed = 0 AND s.cloaked = 0 AND s.landed_planet = 0 AND p.id <> ?`,
		sectorID, viewerID)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var sb shipBrief
		if err := srows.Scan(&sb.Player, &sb.Ship, &sb.Type); err != nil {
			return nil, err
		}
		others = append(others, sb)
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}

	var fighters, mines int64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(quantity),0) FROM sector_fighters WHERE sector_id = ?`,
		sectorID).Scan(&fighters); err != nil {
		return nil, err
	}
	if err := tx.QueryRow(`SELECT COALESCE(SUM(quantity),0) FROM sector_mines WHERE sector_id = ? AND kind = 'armid'`,
		sectorID).Scan(&mines); err != nil {
		return nil, err
	}

	out := map[string]any{
		"sector_id":    sectorID,
		"name":         name,
		"safe_zone":    safe,
		"warps":        warps,
		"port_present": boolInt(portPresent > 0),
		"planets":      planets,
		"ships":        others,
		"fighters":     fighters,
		"mines":        mines,
	}
	if beacon.Valid {
		out["beacon"] = beacon.String
	}
	if nebula.Valid {
		out["nebula"] = nebula.String
	}
	return out, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmdSectorScan(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, err := loadShip(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	snap, err := scanSector(tx, sh.SectorID, c.PlayerID())
	if err != nil {
		return nil, err
	}
	return proto.OK("sector.scan.v1", snap), nil
}

func cmdSectorInfo(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		SectorID int64 `json:"sector_id" validate:"required,min=1"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	var name string
	var beacon sql.NullString
	var safe int64
	err := g.Store.DB.QueryRow(`SELECT name, beacon, safe_zone FROM sectors WHERE id = ?`, in.SectorID).
		Scan(&name, &beacon, &safe)
	if err == sql.ErrNoRows {
		return proto.Errorf(proto.ErrSectorNotFound, "sector %d not found", in.SectorID), nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{"sector_id": in.SectorID, "name": name, "safe_zone": safe}
	if beacon.Valid {
		out["beacon"] = beacon.String
	}
	return proto.OK("sector.info_v1", out), nil
}

func cmdSectorSearch(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Query string `json:"query" validate:"required,min=2,max=60"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	rows, err := g.Store.DB.Query(`
		SELECT id, name FROM sectors
		 WHERE name LIKE '%' || ? || '%' OR beacon LIKE '%' || ? || '%'
		 ORDER BY id LIMIT 25`, in.Query, in.Query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hit struct {
		ID   int64  `json:"sector_id"`
		Name string `json:"name"`
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("sector.search_v1", map[string]any{"matches": hits}), nil
}

func cmdSectorSetBeacon(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Text string `json:"text" validate:"required,max=80"`
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
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "FedSpace beacons are fixed")
	}
	if _, err := tx.Exec(`UPDATE sectors SET beacon = ? WHERE id = ?`, in.Text, sh.SectorID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "sector.beacon_set", c.PlayerID(), sh.SectorID,
		map[string]any{"text": in.Text}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("sector.beacon_set_v1", map[string]any{"sector_id": sh.SectorID, "beacon": in.Text}), nil
}

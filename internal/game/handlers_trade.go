package game

import (
	"database/sql"
	"math/rand"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

var cargoColumns = map[string]string{"ORE": "ore", "ORG": "organics", "EQU": "equipment"}

func quoteAll(tx *sql.Tx, port *portRow) ([]map[string]any, error) {
	rows, err := tx.Query(`SELECT code, base_price FROM commodities ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var code string
		var base int64
		if err := rows.Scan(&code, &base); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"code": code, "base": base})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, q := range out {
		code := q["code"].(string)
		stock, err := portStock(tx, port.ID, code)
		if err != nil {
			return nil, err
		}
		q["stock"] = stock
		q["port_sells"] = port.portSells(code)
		q["port_buys"] = port.portBuys(code)
		base := q["base"].(int64)
		if port.portSells(code) {
			q["sell_price"] = SellPrice(base, stock, port.Size, port.Curve)
		}
		if port.portBuys(code) {
			q["buy_price"] = BuyPrice(base, stock, port.Size, port.Curve)
		}
	}
	return out, nil
}

func portHere(tx *sql.Tx, playerID int64) (*Ship, *portRow, error) {
	sh, err := loadShip(tx, playerID)
	if err != nil {
		return nil, nil, err
	}
	port, err := portInSector(tx, sh.SectorID)
	if err != nil {
		return nil, nil, err
	}
	if port == nil {
		return nil, nil, proto.Refuse(proto.RefNotHere, "no port in sector %d", sh.SectorID)
	}
	return sh, port, nil
}

func cmdTradeQuote(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	_, port, err := portHere(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	quotes, err := quoteAll(tx, port)
	if err != nil {
		return nil, err
	}
	return proto.OK("trade.quote_v1", map[string]any{"port_id": port.ID, "port": port.Name, "quotes": quotes}), nil
}

func cmdDockStatus(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	sh, port, err := portHere(tx, c.PlayerID())
	if err != nil {
		return nil, err
	}
	return proto.OK("dock.status_v1", map[string]any{
		"port_id":    port.ID,
		"name":       port.Name,
		"trade_code": port.TradeCode,
		"size":       port.Size,
		"tech_level": port.TechLevel,
		"docked":     sh.Docked,
	}), nil
}

type tradeInput struct {
	Commodity string `json:"commodity" validate:"required,oneof=ORE ORG EQU"`
	Quantity  int64  `json:"quantity" validate:"required,min=1"`
}

func cmdTradeBuy(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in tradeInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	sh, port, err := portHere(tx, playerID)
	if err != nil {
		return nil, err
	}
	if !port.portSells(in.Commodity) {
		return nil, proto.Refuse(proto.RefPrecondition, "%s does not sell %s", port.Name, in.Commodity)
	}
	stock, err := portStock(tx, port.ID, in.Commodity)
	if err != nil {
		return nil, err
	}
	if stock < in.Quantity {
		return nil, proto.Refuse(proto.RefInsufficientStock, "port has %d units", stock).
			WithMeta(map[string]any{"available": stock})
	}
	if sh.CargoUsed()+in.Quantity > sh.Holds {
		free := sh.Holds - sh.CargoUsed()
		return nil, proto.Refuse(proto.RefHoldsExceeded, "only %d holds free", free).
			WithMeta(map[string]any{"free_holds": free})
	}

	base, err := commodityBase(tx, in.Commodity)
	if err != nil {
		return nil, err
	}
	unit := SellPrice(base, stock, port.Size, port.Curve)
	total := unit * in.Quantity

	var credits int64
	if err := tx.QueryRow(`SELECT credits FROM players WHERE id = ?`, playerID).Scan(&credits); err != nil {
		return nil, err
	}
	if credits < total {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "costs %d, you carry %d", total, credits).
			WithMeta(map[string]any{"missing": map[string]any{"credits": total - credits}})
	}

	if _, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ?`, total, playerID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ports SET petty_cash = petty_cash + ? WHERE id = ?`, total, port.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE entity_stock SET quantity = quantity - ?
		WHERE entity_type = 'port' AND entity_id = ? AND commodity_code = ?`,
		in.Quantity, port.ID, in.Commodity); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ships SET `+cargoColumns[in.Commodity]+` = `+cargoColumns[in.Commodity]+` + ? WHERE id = ?`,
		in.Quantity, sh.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO trade_log (ts, player_id, port_id, commodity, direction, quantity, unit_price, total)
		VALUES (?, ?, ?, ?, 'buy', ?, ?, ?)`,
		time.Now().Unix(), playerID, port.ID, in.Commodity, in.Quantity, unit, total); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "trade.executed", playerID, sh.SectorID, map[string]any{
		"port_id": port.ID, "commodity": in.Commodity, "direction": "buy",
		"quantity": in.Quantity, "unit_price": unit,
	}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("trade.bought_v1", map[string]any{
		"commodity": in.Commodity, "quantity": in.Quantity,
		"unit_price": unit, "total": total, "credits_left": credits - total,
	}), nil
}

func cmdTradeSell(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in tradeInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	sh, port, err := portHere(tx, playerID)
	if err != nil {
		return nil, err
	}
	if !port.portBuys(in.Commodity) {
		return nil, proto.Refuse(proto.RefPrecondition, "%s does not buy %s", port.Name, in.Commodity)
	}

	var carried int64
	switch in.Commodity {
	case "ORE":
		carried = sh.Ore
	case "ORG":
		carried = sh.Organics
	case "EQU":
		carried = sh.Equipment
	}
	if carried < in.Quantity {
		return nil, proto.Refuse(proto.RefInsufficientStock, "you carry %d units", carried)
	}

	stock, err := portStock(tx, port.ID, in.Commodity)
	if err != nil {
		return nil, err
	}
	base, err := commodityBase(tx, in.Commodity)
	if err != nil {
		return nil, err
	}
	unit := BuyPrice(base, stock, port.Size, port.Curve)
	total := unit * in.Quantity
	if port.PettyCash < total {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "port can only pay %d", port.PettyCash)
	}

	if _, err := tx.Exec(`UPDATE ships SET `+cargoColumns[in.Commodity]+` = `+cargoColumns[in.Commodity]+` - ? WHERE id = ?`,
		in.Quantity, sh.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE entity_stock SET quantity = quantity + ?
		WHERE entity_type = 'port' AND entity_id = ? AND commodity_code = ?`,
		in.Quantity, port.ID, in.Commodity); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE ports SET petty_cash = petty_cash - ? WHERE id = ?`, total, port.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, total, playerID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT INTO trade_log (ts, player_id, port_id, commodity, direction, quantity, unit_price, total)
		VALUES (?, ?, ?, ?, 'sell', ?, ?, ?)`,
		time.Now().Unix(), playerID, port.ID, in.Commodity, in.Quantity, unit, total); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "trade.executed", playerID, sh.SectorID, map[string]any{
		"port_id": port.ID, "commodity": in.Commodity, "direction": "sell",
		"quantity": in.Quantity, "unit_price": unit,
	}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("trade.sold_v1", map[string]any{
		"commodity": in.Commodity, "quantity": in.Quantity, "unit_price": unit, "total": total,
	}), nil
}

func cmdTradeHistory(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT ts, port_id, commodity, direction, quantity, unit_price, total
		  FROM trade_log WHERE player_id = ? ORDER BY id DESC LIMIT 50`, c.PlayerID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct {
		TS        int64  `json:"ts"`
		PortID    int64  `json:"port_id"`
		Commodity string `json:"commodity"`
		Direction string `json:"direction"`
		Quantity  int64  `json:"quantity"`
		UnitPrice int64  `json:"unit_price"`
		Total     int64  `json:"total"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.TS, &e.PortID, &e.Commodity, &e.Direction, &e.Quantity, &e.UnitPrice, &e.Total); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("trade.history_v1", map[string]any{"trades": entries}), nil
}

func cmdTradeJettison(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in tradeInput
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
	col := cargoColumns[in.Commodity]
	res, err := tx.Exec(`UPDATE ships SET `+col+` = `+col+` - ? WHERE id = ? AND `+col+` >= ?`,
		in.Quantity, sh.ID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientStock, "not carrying %d %s", in.Quantity, in.Commodity)
	}
	if err := appendEvent(tx, "cargo.jettisoned", c.PlayerID(), sh.SectorID,
		map[string]any{"commodity": in.Commodity, "quantity": in.Quantity}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("trade.jettisoned_v1", map[string]any{"commodity": in.Commodity, "quantity": in.Quantity}), nil
}

func cmdPortRob(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	sh, port, err := portHere(tx, playerID)
	if err != nil {
		return nil, err
	}
	if inFedSpace(sh.SectorID) {
		return nil, proto.Refuse(proto.RefSafeZoneOnly, "Federation police watch this port")
	}
	var busted int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM port_busts WHERE player_id = ? AND port_id = ?`,
		playerID, port.ID).Scan(&busted); err != nil {
		return nil, err
	}
	if busted > 0 {
		return nil, proto.Refuse(proto.RefPrecondition, "this port remembers your face")
	}

	var experience int64
	if err := tx.QueryRow(`SELECT experience FROM players WHERE id = ?`, playerID).Scan(&experience); err != nil {
		return nil, err
	}
	// Odds improve with experience but never top 75%.
	chance := 30 + experience/50
	if chance > 75 {
		chance = 75
	}
	now := time.Now().Unix()
	if rand.Int63n(100) < chance {
		haul := port.PettyCash / 10
		if haul < 1 {
			return nil, proto.Refuse(proto.RefInsufficientFunds, "the till is empty")
		}
		if _, err := tx.Exec(`UPDATE ports SET petty_cash = petty_cash - ? WHERE id = ?`, haul, port.ID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`UPDATE players SET credits = credits + ?, alignment = alignment - 5, experience = experience + 10 WHERE id = ?`,
			haul, playerID); err != nil {
			return nil, err
		}
		if err := appendEvent(tx, "port.robbed", playerID, sh.SectorID,
			map[string]any{"port_id": port.ID, "haul": haul}, req.IdempotencyKey); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return proto.OK("port.rob_v1", map[string]any{"success": true, "haul": haul}), nil
	}

	fine := 500 + port.Size*100
	if _, err := tx.Exec(`INSERT INTO law_enforcement (player_id, reason, amount, issued_at) VALUES (?, 'attempted port robbery', ?, ?)`,
		playerID, fine, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO port_busts (player_id, port_id, busted_at) VALUES (?, ?, ?)`,
		playerID, port.ID, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET alignment = alignment - 10 WHERE id = ?`, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "port.rob_busted", playerID, sh.SectorID,
		map[string]any{"port_id": port.ID, "fine": fine}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("port.rob_v1", map[string]any{"success": false, "fine": fine}), nil
}

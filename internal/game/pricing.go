package game

import "database/sql"

// Port prices move with the fill ratio r = stock / (size*1000): the fuller
// the port, the cheaper it sells and the less it pays. Selling always sits
// above buying so the port keeps a spread. Both clamp at 1.

func fillRatio(stock, size int64) float64 {
	cap := float64(size * 1000)
	if cap <= 0 {
		return 1
	}
	r := float64(stock) / cap
	if r > 1 {
		r = 1
	}
	return r
}

// SellPrice is what the port charges a player per unit.
func SellPrice(base, stock, size int64, curve float64) int64 {
	p := int64(float64(base) * (1.5 - fillRatio(stock, size)) * curve)
	if p < 1 {
		p = 1
	}
	return p
}

// BuyPrice is what the port pays a player per unit.
func BuyPrice(base, stock, size int64, curve float64) int64 {
	p := int64(float64(base) * (1.0 - 0.5*fillRatio(stock, size)) * curve)
	if p < 1 {
		p = 1
	}
	return p
}

type portRow struct {
	ID, SectorID, Size, TechLevel, PettyCash int64
	Name, TradeCode                          string
	Curve                                    float64
}

func portInSector(tx *sql.Tx, sector int64) (*portRow, error) {
	p := &portRow{}
	err := tx.QueryRow(`
		SELECT po.id, po.sector_id, po.size, po.tech_level, po.petty_cash, po.name, po.trade_code, ec.multiplier
		  FROM ports po JOIN economy_curve ec ON ec.id = po.curve_id
		 WHERE po.sector_id = ?`, sector).Scan(
		&p.ID, &p.SectorID, &p.Size, &p.TechLevel, &p.PettyCash, &p.Name, &p.TradeCode, &p.Curve)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// tradeSlot maps a commodity code to its position in the port trade code
// string ("BBS" = buys ore, buys organics, sells equipment).
func tradeSlot(code string) int {
	switch code {
	case "ORE":
		return 0
	case "ORG":
		return 1
	case "EQU":
		return 2
	}
	return -1
}

// portSells reports whether the port sells the commodity to players.
func (p *portRow) portSells(code string) bool {
	i := tradeSlot(code)
	return i >= 0 && i < len(p.TradeCode) && p.TradeCode[i] == 'S'
}

// portBuys reports whether the port buys the commodity from players.
func (p *portRow) portBuys(code string) bool {
	i := tradeSlot(code)
	return i >= 0 && i < len(p.TradeCode) && p.TradeCode[i] == 'B'
}

func portStock(tx *sql.Tx, portID int64, code string) (qty int64, err error) {
	err = tx.QueryRow(`SELECT quantity FROM entity_stock
		WHERE entity_type = 'port' AND entity_id = ? AND commodity_code = ?`, portID, code).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func commodityBase(tx *sql.Tx, code string) (int64, error) {
	var base int64
	err := tx.QueryRow(`SELECT base_price FROM commodities WHERE code = ?`, code).Scan(&base)
	return base, err
}

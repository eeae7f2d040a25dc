package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrLegacySchema means the database file predates the key-value config
// layout. We refuse to touch it: the operator must back it up and delete it.
var ErrLegacySchema = errors.New("legacy database layout detected: back up and delete the db file, then restart")

// Boot brings the database to a runnable state. First boot (no config
// table) runs the full schema and seed; any boot re-runs the rails script
// and verifies the config table shape.
func (s *Store) Boot() error {
	fresh, err := s.tableMissing("config")
	if err != nil {
		return err
	}
	if !fresh {
		ok, err := s.hasColumn("config", "key")
		if err != nil {
			return err
		}
		if !ok {
			return ErrLegacySchema
		}
	}

	if _, err := s.DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.DB.Exec(seedSQL); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	if err := s.seedUniverse(); err != nil {
		return err
	}
	if err := s.seedCron(); err != nil {
		return err
	}
	if _, err := s.DB.Exec(railsSQL); err != nil {
		return fmt.Errorf("apply rails: %w", err)
	}
	// After the rails so the balance trigger sees the reserve float.
	if err := s.seedBank(); err != nil {
		return err
	}
	if err := s.seedS2SKey(); err != nil {
		return err
	}
	if fresh {
		s.log.Info().Msg("first boot: schema and seed applied")
	}
	return nil
}

func (s *Store) tableMissing(name string) (bool, error) {
	var n int
	err := s.DB.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect sqlite_master: %w", err)
	}
	return n == 0, nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.DB.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) seedUniverse() error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer s.Rollback(tx)

	for i := int64(1); i <= 30; i++ {
		name := fmt.Sprintf("Sector %d", i)
		safe := 0
		if i <= 10 {
			name = fmt.Sprintf("Fedspace %d", i)
			safe = 1
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO sectors (id, name, safe_zone) VALUES (?, ?, ?)`,
			i, name, safe); err != nil {
			return fmt.Errorf("seed sector %d: %w", i, err)
		}
	}

	for _, w := range seedWarps {
		for _, e := range [][2]int64{{w.a, w.b}, {w.b, w.a}} {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO sector_warps (from_sector, to_sector) VALUES (?, ?)`,
				e[0], e[1]); err != nil {
				return fmt.Errorf("seed warp %v: %w", e, err)
			}
		}
	}
	for _, w := range seedOneWayWarps {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO sector_warps (from_sector, to_sector) VALUES (?, ?)`,
			w.a, w.b); err != nil {
			return fmt.Errorf("seed one-way warp %v: %w", w, err)
		}
	}

	for _, p := range seedPorts {
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO ports (sector_id, name, trade_code, size, curve_id)
			SELECT ?, ?, ?, ?, ?
			 WHERE NOT EXISTS (SELECT 1 FROM ports WHERE sector_id = ?)`,
			p.sector, p.name, p.tradeCode, p.size, p.curve, p.sector)
		if err != nil {
			return fmt.Errorf("seed port %s: %w", p.name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		portID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		// Stock starts at half capacity; price column is refreshed by the
		// port_economy_tick cron from the curve.
		half := p.size * 500
		for _, code := range []string{"ORE", "ORG", "EQU"} {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO entity_stock (entity_type, entity_id, commodity_code, quantity, price)
				VALUES ('port', ?, ?, ?, 0)`, portID, code, half); err != nil {
				return fmt.Errorf("seed stock for port %d: %w", portID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed universe: %w", err)
	}
	return nil
}

func (s *Store) seedCron() error {
	now := time.Now().Unix()
	for _, t := range seedCronTasks {
		if _, err := s.DB.Exec(`
			INSERT OR IGNORE INTO cron_tasks (name, schedule, enabled, next_due_at) VALUES (?, ?, 1, ?)`,
			t[0], t[1], now); err != nil {
			return fmt.Errorf("seed cron %s: %w", t[0], err)
		}
	}
	return nil
}

// seedBank opens the system treasury on first boot. Every scheduled tax or
// interest posting books against this account, so interest paid out is a
// debit somewhere and the ledger stays double-entry. The float is large
// enough that interest never trips the overdraft rail.
func (s *Store) seedBank() error {
	res, err := s.DB.Exec(`
		INSERT OR IGNORE INTO bank_accounts (owner_type, owner_id, currency, created_at)
		VALUES ('system', 0, 'CRD', ?)`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("seed treasury: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	acct, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(`
		INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
		VALUES (?, ?, 'CREDIT', 1000000000000, '', 'treasury float')`, time.Now().Unix(), acct); err != nil {
		return fmt.Errorf("seed treasury float: %w", err)
	}
	return nil
}

// seedS2SKey mints the default S2S secret on first boot only.
func (s *Store) seedS2SKey() error {
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM s2s_keys`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	_, err := s.DB.Exec(`INSERT INTO s2s_keys (key_id, secret, enabled) VALUES ('default', ?, 1)`,
		hex.EncodeToString(raw))
	return err
}

// S2SSecret returns the enabled secret for key_id, or sql.ErrNoRows.
func (s *Store) S2SSecret(keyID string) (string, error) {
	var secret string
	err := s.DB.QueryRow(`SELECT secret FROM s2s_keys WHERE key_id = ? AND enabled = 1`, keyID).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", err
	}
	return secret, err
}

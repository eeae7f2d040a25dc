package cron

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/rdearman/twclone-sub004/internal/store"
)

func taskDailyTurnReset(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`UPDATE players SET turns = turns_per_day WHERE destroyed = 0`)
	return err
}

// Terra never runs dry: colonist stock is topped back up so new captains can
// always load settlers.
func taskTerraReplenish(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`
		UPDATE planets SET colonists = MAX(colonists, 1000000), population = MAX(population, 4000000)
		 WHERE id = 1`)
	return err
}

func taskPlanetGrowth(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	// Colonists work the land per planet class, then multiply a little.
	if _, err := tx.Exec(`
		UPDATE planets SET
			ore_on_hand       = ore_on_hand       + colonists * (SELECT ore_rate       FROM planettypes WHERE class = planets.class) / 1000,
			organics_on_hand  = organics_on_hand  + colonists * (SELECT organics_rate  FROM planettypes WHERE class = planets.class) / 1000,
			equipment_on_hand = equipment_on_hand + colonists * (SELECT equipment_rate FROM planettypes WHERE class = planets.class) / 1000
		 WHERE colonists > 0 AND id != 1`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE planets SET colonists = MIN(
			colonists + colonists / 50 + 1,
			(SELECT max_colonists FROM planettypes WHERE class = planets.class))
		 WHERE colonists > 0 AND id != 1`); err != nil {
		return err
	}

	// Finished citadel construction comes online on the same tick.
	rows, err := tx.Query(`SELECT planet_id, target_level FROM citadels
		 WHERE construction_status = 'upgrading' AND end_ts <= ?`, now.Unix())
	if err != nil {
		return err
	}
	type doneRow struct{ planet, level int64 }
	var finished []doneRow
	for rows.Next() {
		var d doneRow
		if err := rows.Scan(&d.planet, &d.level); err != nil {
			rows.Close()
			return err
		}
		finished = append(finished, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, d := range finished {
		if _, err := tx.Exec(`
			UPDATE citadels SET level = ?, construction_status = 'idle', target_level = 0
			 WHERE planet_id = ?`, d.level, d.planet); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]any{"planet_id": d.planet, "level": d.level})
		if _, err := tx.Exec(`INSERT INTO engine_events (ts, type, payload) VALUES (?, 'citadel.completed', ?)`,
			now.Unix(), string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FedSpace stays clean: deployed weapons inside the safe zone are confiscated.
func taskFedSpaceCleanup(st *store.Store, now time.Time) error {
	if _, err := st.DB.Exec(`DELETE FROM sector_fighters WHERE sector_id <= 10`); err != nil {
		return err
	}
	_, err := st.DB.Exec(`DELETE FROM sector_mines WHERE sector_id <= 10`)
	return err
}

func taskAutoUncloak(st *store.Store, now time.Time) error {
	ttl := st.ConfigInt(st.DB, "cloak_ttl_sec", 3600)
	_, err := st.DB.Exec(`UPDATE ships SET cloaked = 0 WHERE cloaked = 1 AND cloaked_at < ?`,
		now.Unix()-ttl)
	return err
}

func taskNPCStep(st *store.Store, now time.Time) error {
	rows, err := st.DB.Query(`SELECT id, sector_id FROM npc_ships`)
	if err != nil {
		return err
	}
	type npc struct{ id, sector int64 }
	var npcs []npc
	for rows.Next() {
		var n npc
		if err := rows.Scan(&n.id, &n.sector); err != nil {
			rows.Close()
			return err
		}
		npcs = append(npcs, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, n := range npcs {
		var exits []int64
		erows, err := st.DB.Query(`SELECT to_sector FROM sector_warps WHERE from_sector = ?`, n.sector)
		if err != nil {
			return err
		}
		for erows.Next() {
			var to int64
			if err := erows.Scan(&to); err != nil {
				erows.Close()
				return err
			}
			exits = append(exits, to)
		}
		erows.Close()
		if err := erows.Err(); err != nil {
			return err
		}
		if len(exits) == 0 {
			continue
		}
		if _, err := st.DB.Exec(`UPDATE npc_ships SET sector_id = ? WHERE id = ?`,
			exits[rand.Intn(len(exits))], n.id); err != nil {
			return err
		}
	}
	return nil
}

func taskBroadcastTTLCleanup(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`DELETE FROM subspace WHERE ts < ?`, now.Unix()-7*86400)
	return err
}

// taskDailyNewsCompiler rolls everything since the news offset into one
// digest story and advances the offset.
func taskDailyNewsCompiler(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	var last int64
	if err := tx.QueryRow(`SELECT last_event_id FROM engine_offset WHERE key = 'news'`).Scan(&last); err != nil {
		return err
	}
	var max int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM engine_events`).Scan(&max); err != nil {
		return err
	}
	if max <= last {
		return tx.Commit()
	}

	rows, err := tx.Query(`
		SELECT type, COUNT(*) FROM engine_events WHERE id > ? AND id <= ?
		 GROUP BY type ORDER BY COUNT(*) DESC`, last, max)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	var total int64
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return err
		}
		fmt.Fprintf(&body, "%s: %d\n", typ, n)
		total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	headline := fmt.Sprintf("Galactic wire: %d reports filed", total)
	if _, err := tx.Exec(`INSERT INTO news_feed (ts, category, headline, body) VALUES (?, 'digest', ?, ?)`,
		now.Unix(), headline, body.String()); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE engine_offset SET last_event_id = ? WHERE key = 'news'`, max); err != nil {
		return err
	}
	return tx.Commit()
}

// taskTrapsProcess drains the engine command queue. Commands whose type has
// no consumer are dead-lettered instead of silently dropped.
func taskTrapsProcess(st *store.Store, now time.Time) error {
	rows, err := st.DB.Query(`
		SELECT id, type, payload FROM engine_commands
		 WHERE status = 'ready' AND due_at <= ? ORDER BY priority DESC, id LIMIT 100`, now.Unix())
	if err != nil {
		return err
	}
	type cmd struct {
		id            int64
		typ, payload string
	}
	var cmds []cmd
	for rows.Next() {
		var c cmd
		if err := rows.Scan(&c.id, &c.typ, &c.payload); err != nil {
			rows.Close()
			return err
		}
		cmds = append(cmds, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range cmds {
		tx, err := st.Begin()
		if err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE engine_commands SET status = 'running' WHERE id = ? AND status = 'ready'`, c.id)
		if err != nil {
			st.Rollback(tx)
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			st.Rollback(tx) // raced with another runner
			continue
		}

		if err := applyEngineCommand(tx, c.typ, c.payload, now); err != nil {
			if _, e := tx.Exec(`
				INSERT INTO engine_events_deadletter (cmd_id, type, payload, error, attempts, moved_at)
				VALUES (?, ?, ?, ?, 1, ?)`, c.id, c.typ, c.payload, err.Error(), now.Unix()); e != nil {
				st.Rollback(tx)
				return e
			}
			if _, e := tx.Exec(`UPDATE engine_commands SET status = 'failed' WHERE id = ?`, c.id); e != nil {
				st.Rollback(tx)
				return e
			}
		} else if _, err := tx.Exec(`UPDATE engine_commands SET status = 'done' WHERE id = ?`, c.id); err != nil {
			st.Rollback(tx)
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// applyEngineCommand executes one queued command inside tx.
func applyEngineCommand(tx *sql.Tx, typ, payload string, now time.Time) error {
	switch typ {
	case "notice.system":
		var in struct {
			Body string `json:"body"`
			TTL  int64  `json:"ttl_sec"`
		}
		if err := json.Unmarshal([]byte(payload), &in); err != nil || in.Body == "" {
			return fmt.Errorf("bad notice payload")
		}
		if in.TTL == 0 {
			in.TTL = 86400
		}
		_, err := tx.Exec(`INSERT INTO system_notices (ts, body, expires_at) VALUES (?, ?, ?)`,
			now.Unix(), in.Body, now.Unix()+in.TTL)
		return err

	case "news.publish":
		var in struct {
			Category string `json:"category"`
			Headline string `json:"headline"`
			Body     string `json:"body"`
		}
		if err := json.Unmarshal([]byte(payload), &in); err != nil || in.Headline == "" {
			return fmt.Errorf("bad news payload")
		}
		if in.Category == "" {
			in.Category = "general"
		}
		_, err := tx.Exec(`INSERT INTO news_feed (ts, category, headline, body) VALUES (?, ?, ?, ?)`,
			now.Unix(), in.Category, in.Headline, in.Body)
		return err

	case "player.grant_turns":
		var in struct {
			PlayerID int64 `json:"player_id"`
			Turns    int64 `json:"turns"`
		}
		if err := json.Unmarshal([]byte(payload), &in); err != nil || in.PlayerID == 0 || in.Turns <= 0 {
			return fmt.Errorf("bad grant payload")
		}
		_, err := tx.Exec(`UPDATE players SET turns = turns + ? WHERE id = ?`, in.Turns, in.PlayerID)
		return err
	}
	return fmt.Errorf("no consumer for command type %q", typ)
}

func taskCleanupOldNews(st *store.Store, now time.Time) error {
	keep := st.ConfigInt(st.DB, "news_keep_days", 14)
	_, err := st.DB.Exec(`DELETE FROM news_feed WHERE ts < ?`, now.Unix()-keep*86400)
	return err
}

func taskLimpetTTLCleanup(st *store.Store, now time.Time) error {
	ttl := st.ConfigInt(st.DB, "limpet_ttl_sec", 604800)
	_, err := st.DB.Exec(`DELETE FROM sector_mines WHERE kind = 'limpet' AND laid_at < ?`,
		now.Unix()-ttl)
	return err
}

// taskDailyLotteryDraw settles every finished lottery day: one weighted
// winner takes 90% of the pot, the house keeps the rest.
func taskDailyLotteryDraw(st *store.Store, now time.Time) error {
	today := now.Unix() / 86400
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	rows, err := tx.Query(`SELECT DISTINCT day_id FROM tavern_lottery WHERE day_id < ?`, today)
	if err != nil {
		return err
	}
	var days []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return err
		}
		days = append(days, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, day := range days {
		trows, err := tx.Query(`SELECT player_id, stake FROM tavern_lottery WHERE day_id = ?`, day)
		if err != nil {
			return err
		}
		type ticket struct{ player, stake int64 }
		var tickets []ticket
		var pot int64
		for trows.Next() {
			var t ticket
			if err := trows.Scan(&t.player, &t.stake); err != nil {
				trows.Close()
				return err
			}
			tickets = append(tickets, t)
			pot += t.stake
		}
		trows.Close()
		if err := trows.Err(); err != nil {
			return err
		}
		if pot == 0 {
			continue
		}

		// Weighted draw: a bigger stake is more of the pot.
		pick := rand.Int63n(pot)
		winner := tickets[0].player
		for _, t := range tickets {
			if pick < t.stake {
				winner = t.player
				break
			}
			pick -= t.stake
		}
		prize := pot * 9 / 10
		if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, prize, winner); err != nil {
			return err
		}
		var name string
		if err := tx.QueryRow(`SELECT name FROM players WHERE id = ?`, winner).Scan(&name); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO news_feed (ts, category, headline) VALUES (?, 'tavern', ?)`,
			now.Unix(), fmt.Sprintf("%s wins the daily lottery: %d credits", name, prize)); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM tavern_lottery WHERE day_id = ?`, day); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Dead pool bets pay five to one once the target's ship is confirmed gone.
func taskDeadpoolResolution(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	rows, err := tx.Query(`
		SELECT d.id, d.bettor_id, d.stake FROM tavern_deadpool d
		 WHERE d.resolved = 0 AND EXISTS (
			SELECT 1 FROM players p JOIN ships s ON s.id = p.active_ship
			 WHERE p.id = d.target_id AND s.type_id = 2 AND s.name = 'Escape Pod')`)
	if err != nil {
		return err
	}
	type bet struct{ id, bettor, stake int64 }
	var won []bet
	for rows.Next() {
		var b bet
		if err := rows.Scan(&b.id, &b.bettor, &b.stake); err != nil {
			rows.Close()
			return err
		}
		won = append(won, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, b := range won {
		if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, b.stake*5, b.bettor); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE tavern_deadpool SET resolved = 1 WHERE id = ?`, b.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func taskTavernNoticeExpiry(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`DELETE FROM tavern_notices WHERE expires_at <= ?`, now.Unix())
	return err
}

// The loan shark compounds at 10% a day. Nobody said it was a fair deal.
func taskLoanSharkInterest(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`UPDATE tavern_loans SET principal = principal + MAX(principal / 10, 1)`)
	return err
}

// creditOwner appends a ledger CREDIT for the owner's account, creating the
// account when missing.
func creditOwner(tx *sql.Tx, ownerType string, ownerID, amount int64, memo string, now time.Time) error {
	if amount <= 0 {
		return nil
	}
	var acct int64
	err := tx.QueryRow(`SELECT id FROM bank_accounts WHERE owner_type = ? AND owner_id = ? AND currency = 'CRD'`,
		ownerType, ownerID).Scan(&acct)
	if err == sql.ErrNoRows {
		res, err := tx.Exec(`INSERT INTO bank_accounts (owner_type, owner_id, currency, created_at) VALUES (?, ?, 'CRD', ?)`,
			ownerType, ownerID, now.Unix())
		if err != nil {
			return err
		}
		if acct, err = res.LastInsertId(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
		VALUES (?, ?, 'CREDIT', ?, '', ?)`, now.Unix(), acct, amount, memo)
	return err
}

// taskDividendPayout splits 1% of each corporate treasury across the
// membership, paired ledger rows per member.
func taskDividendPayout(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	rows, err := tx.Query(`
		SELECT a.id, a.owner_id, a.balance FROM bank_accounts a
		 WHERE a.owner_type = 'corp' AND a.balance >= 1000`)
	if err != nil {
		return err
	}
	type corpAcct struct{ acct, corp, balance int64 }
	var corps []corpAcct
	for rows.Next() {
		var c corpAcct
		if err := rows.Scan(&c.acct, &c.corp, &c.balance); err != nil {
			rows.Close()
			return err
		}
		corps = append(corps, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range corps {
		mrows, err := tx.Query(`SELECT player_id FROM corp_members WHERE corp_id = ?`, c.corp)
		if err != nil {
			return err
		}
		var members []int64
		for mrows.Next() {
			var id int64
			if err := mrows.Scan(&id); err != nil {
				mrows.Close()
				return err
			}
			members = append(members, id)
		}
		mrows.Close()
		if err := mrows.Err(); err != nil {
			return err
		}
		if len(members) == 0 {
			continue
		}
		perMember := c.balance / 100 / int64(len(members))
		if perMember == 0 {
			continue
		}
		group := uuid.NewString()
		total := perMember * int64(len(members))
		if _, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
			VALUES (?, ?, 'DEBIT', ?, ?, 'dividend')`, now.Unix(), c.acct, total, group); err != nil {
			return err
		}
		for _, m := range members {
			if err := creditOwner(tx, "player", m, perMember, "dividend", now); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func taskStockPriceRecalc(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`
		UPDATE corp_stocks SET
			share_price = MAX(1, COALESCE((
				SELECT balance FROM bank_accounts
				 WHERE owner_type = 'corp' AND owner_id = corp_stocks.corp_id AND currency = 'CRD'), 0)
				/ MAX(shares, 1)),
			last_recalc = ?`, now.Unix())
	return err
}

// taskMarketSettlement clears the stock order book at the current recalced
// price. Orders that cannot pay are discarded, not retried forever.
func taskMarketSettlement(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	rows, err := tx.Query(`
		SELECT o.id, o.corp_id, o.player_id, o.side, o.shares, s.share_price
		  FROM stock_orders o JOIN corp_stocks s ON s.corp_id = o.corp_id
		 WHERE o.settled = 0 ORDER BY o.id`)
	if err != nil {
		return err
	}
	type order struct {
		id, corp, player, shares, price int64
		side                            string
	}
	var orders []order
	for rows.Next() {
		var o order
		if err := rows.Scan(&o.id, &o.corp, &o.player, &o.side, &o.shares, &o.price); err != nil {
			rows.Close()
			return err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, o := range orders {
		total := o.shares * o.price
		switch o.side {
		case "buy":
			res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
				total, o.player, total)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				if err := creditOwner(tx, "corp", o.corp, total, "share issue", now); err != nil {
					return err
				}
				if _, err := tx.Exec(`UPDATE corp_stocks SET shares = shares + ? WHERE corp_id = ?`,
					o.shares, o.corp); err != nil {
					return err
				}
			}
		case "sell":
			if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, total, o.player); err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE corp_stocks SET shares = MAX(shares - ?, 0) WHERE corp_id = ?`,
				o.shares, o.corp); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`UPDATE stock_orders SET settled = 1 WHERE id = ?`, o.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func taskSystemNoticeTTL(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`DELETE FROM system_notices WHERE expires_at <= ?`, now.Unix())
	return err
}

// taskDeadletterRetry gives failed commands up to five more chances.
func taskDeadletterRetry(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	rows, err := tx.Query(`SELECT id, type, payload, attempts FROM engine_events_deadletter WHERE attempts < 5 LIMIT 50`)
	if err != nil {
		return err
	}
	type dead struct {
		id, attempts int64
		typ, payload string
	}
	var deads []dead
	for rows.Next() {
		var d dead
		if err := rows.Scan(&d.id, &d.typ, &d.payload, &d.attempts); err != nil {
			rows.Close()
			return err
		}
		deads = append(deads, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range deads {
		if err := applyEngineCommand(tx, d.typ, d.payload, now); err != nil {
			if _, e := tx.Exec(`UPDATE engine_events_deadletter SET attempts = attempts + 1, error = ? WHERE id = ?`,
				err.Error(), d.id); e != nil {
				return e
			}
			continue
		}
		if _, err := tx.Exec(`DELETE FROM engine_events_deadletter WHERE id = ?`, d.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// treasuryAccount finds the system treasury seeded at boot. Scheduled tax
// and interest postings book their counter-leg here.
func treasuryAccount(tx *sql.Tx) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM bank_accounts WHERE owner_type = 'system' AND owner_id = 0`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("treasury account: %w", err)
	}
	return id, nil
}

// One percent of each treasury goes to the Federation every day. Each levy is
// two legs under one tx_group_id: a debit on the corp, a matching credit on
// the system treasury.
func taskDailyCorpTax(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	treasury, err := treasuryAccount(tx)
	if err != nil {
		return err
	}
	rows, err := tx.Query(`SELECT id, balance FROM bank_accounts WHERE owner_type = 'corp' AND balance >= 100`)
	if err != nil {
		return err
	}
	type acct struct{ id, balance int64 }
	var accts []acct
	for rows.Next() {
		var a acct
		if err := rows.Scan(&a.id, &a.balance); err != nil {
			rows.Close()
			return err
		}
		accts = append(accts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range accts {
		tax := a.balance / 100
		group := uuid.NewString()
		if _, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
			VALUES (?, ?, 'DEBIT', ?, ?, 'federation tax')`, now.Unix(), a.id, tax, group); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
			VALUES (?, ?, 'CREDIT', ?, ?, 'federation tax')`, now.Unix(), treasury, tax, group); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Interest is paid out of the system treasury, paired the same way.
func taskBankInterest(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	treasury, err := treasuryAccount(tx)
	if err != nil {
		return err
	}
	rows, err := tx.Query(`
		SELECT a.id, a.balance * p.daily_bp / 10000
		  FROM bank_accounts a JOIN bank_interest_policy p ON p.owner_type = a.owner_type
		 WHERE a.balance > 0`)
	if err != nil {
		return err
	}
	type pay struct{ acct, amount int64 }
	var pays []pay
	for rows.Next() {
		var p pay
		if err := rows.Scan(&p.acct, &p.amount); err != nil {
			rows.Close()
			return err
		}
		if p.amount > 0 {
			pays = append(pays, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pays {
		group := uuid.NewString()
		if _, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
			VALUES (?, ?, 'DEBIT', ?, ?, 'interest')`, now.Unix(), treasury, p.amount, group); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
			VALUES (?, ?, 'CREDIT', ?, ?, 'interest')`, now.Unix(), p.acct, p.amount, group); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// taskPortEconomy drifts every port back toward its resting state: stock
// toward half capacity, petty cash toward its float.
func taskPortEconomy(st *store.Store, now time.Time) error {
	if _, err := st.DB.Exec(`
		UPDATE entity_stock SET quantity = quantity +
			CASE
				WHEN quantity < (SELECT size * 500 FROM ports WHERE id = entity_stock.entity_id)
					THEN MIN((SELECT size * 25 FROM ports WHERE id = entity_stock.entity_id),
					         (SELECT size * 500 FROM ports WHERE id = entity_stock.entity_id) - quantity)
				WHEN quantity > (SELECT size * 500 FROM ports WHERE id = entity_stock.entity_id)
					THEN -MIN((SELECT size * 25 FROM ports WHERE id = entity_stock.entity_id),
					          quantity - (SELECT size * 500 FROM ports WHERE id = entity_stock.entity_id))
				ELSE 0
			END
		 WHERE entity_type = 'port'`); err != nil {
		return err
	}
	_, err := st.DB.Exec(`
		UPDATE ports SET petty_cash = MIN(petty_cash + size * 1000, 100000) WHERE petty_cash < 100000`)
	return err
}

// Planet populations eat: organics drain with population, and population
// follows the food supply.
func taskPlanetMarket(st *store.Store, now time.Time) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	defer st.Rollback(tx)

	if _, err := tx.Exec(`
		UPDATE planets SET organics_on_hand = MAX(organics_on_hand - population / 100000, 0)
		 WHERE population > 0 AND id != 1`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE planets SET population = population + population / 200
		 WHERE population > 0 AND organics_on_hand > 0 AND id != 1`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE planets SET population = MAX(population - population / 100, 0)
		 WHERE population > 0 AND organics_on_hand = 0 AND id != 1`); err != nil {
		return err
	}
	return tx.Commit()
}

func taskShieldRegen(st *store.Store, now time.Time) error {
	_, err := st.DB.Exec(`
		UPDATE ships SET shields = MIN(
			shields + MAX((SELECT max_shields FROM shiptypes WHERE id = ships.type_id) / 10, 1),
			(SELECT max_shields FROM shiptypes WHERE id = ships.type_id))
		 WHERE docked = 1 AND destroyed = 0`)
	return err
}

// taskWorldSnapshot freezes the day's world_summary row into a compressed
// blob whose hash chains to the previous snapshot, so tampering with history
// breaks the chain.
func taskWorldSnapshot(st *store.Store, now time.Time) error {
	dayID := now.Unix() / 86400

	row := st.DB.QueryRow(`SELECT sectors, players, ships, planets, ports, credits_banked, last_event_id FROM world_summary`)
	var summary struct {
		Sectors       int64 `json:"sectors"`
		Players       int64 `json:"players"`
		Ships         int64 `json:"ships"`
		Planets       int64 `json:"planets"`
		Ports         int64 `json:"ports"`
		CreditsBanked int64 `json:"credits_banked"`
		LastEventID   int64 `json:"last_event_id"`
	}
	if err := row.Scan(&summary.Sectors, &summary.Players, &summary.Ships, &summary.Planets,
		&summary.Ports, &summary.CreditsBanked, &summary.LastEventID); err != nil {
		return err
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	var prevHash string
	err = st.DB.QueryRow(`SELECT final_hash FROM world_snapshots WHERE day_id = (
		SELECT MAX(day_id) FROM world_snapshots WHERE day_id < ?)`, dayID).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	h := blake3.New(32, nil)
	h.Write([]byte(prevHash))
	h.Write(raw)
	finalHash := hex.EncodeToString(h.Sum(nil))

	_, err = st.DB.Exec(`INSERT OR IGNORE INTO world_snapshots (day_id, state_blob, final_hash) VALUES (?, ?, ?)`,
		dayID, compressed.Bytes(), finalHash)
	return err
}

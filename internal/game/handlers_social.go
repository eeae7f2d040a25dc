package game

import (
	"database/sql"
	"time"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

// Tavern business happens under Grimy Trader's roof at the stardock.

func cmdTavernNoticePost(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Body string `json:"body" validate:"required,min=1,max=200"`
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
	if _, err := atStardock(g, tx, playerID); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	res, err := tx.Exec(`INSERT INTO tavern_notices (ts, player_id, body, expires_at) VALUES (?, ?, ?, ?)`,
		now, playerID, in.Body, now+7*86400)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.notice.posted_v1", map[string]any{"notice_id": id}), nil
}

func cmdTavernNoticeList(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT n.id, n.ts, p.name, n.body
		  FROM tavern_notices n JOIN players p ON p.id = n.player_id
		 WHERE n.expires_at > ? ORDER BY n.id DESC LIMIT 25`, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type notice struct {
		ID     int64  `json:"id"`
		TS     int64  `json:"ts"`
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	var notices []notice
	for rows.Next() {
		var n notice
		if err := rows.Scan(&n.ID, &n.TS, &n.Author, &n.Body); err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.notice.list_v1", map[string]any{"notices": notices}), nil
}

func cmdTavernLotteryBuy(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Stake int64 `json:"stake" validate:"required,min=10,max=10000"`
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
	if _, err := atStardock(g, tx, playerID); err != nil {
		return nil, err
	}
	dayID := time.Now().Unix() / 86400
	var tickets int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tavern_lottery WHERE day_id = ? AND player_id = ?`,
		dayID, playerID).Scan(&tickets); err != nil {
		return nil, err
	}
	if tickets >= 5 {
		return nil, proto.Refuse(proto.RefPrecondition, "five tickets a day is the house limit")
	}
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		in.Stake, playerID, in.Stake)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "not carrying %d credits", in.Stake)
	}
	if _, err := tx.Exec(`INSERT INTO tavern_lottery (day_id, player_id, stake) VALUES (?, ?, ?)`,
		dayID, playerID, in.Stake); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "tavern.lottery_ticket", playerID, 0,
		map[string]any{"day_id": dayID, "stake": in.Stake}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.lottery.ticket_v1", map[string]any{
		"day_id": dayID, "stake": in.Stake, "tickets_today": tickets + 1,
	}), nil
}

func cmdTavernDeadpoolBet(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Target string `json:"target" validate:"required"`
		Stake  int64  `json:"stake" validate:"required,min=100,max=50000"`
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
	if _, err := atStardock(g, tx, playerID); err != nil {
		return nil, err
	}
	var targetID int64
	err = tx.QueryRow(`SELECT id FROM players WHERE name = ? AND destroyed = 0`, in.Target).Scan(&targetID)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no player named %q", in.Target)
	}
	if err != nil {
		return nil, err
	}
	if targetID == playerID {
		return nil, proto.Refuse(proto.RefPrecondition, "the house does not take bets on suicide")
	}
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		in.Stake, playerID, in.Stake)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "not carrying %d credits", in.Stake)
	}
	if _, err := tx.Exec(`INSERT INTO tavern_deadpool (bettor_id, target_id, stake, placed_at) VALUES (?, ?, ?, ?)`,
		playerID, targetID, in.Stake, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "tavern.deadpool_bet", playerID, 0,
		map[string]any{"target_id": targetID, "stake": in.Stake}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.deadpool.bet_v1", map[string]any{"target": in.Target, "stake": in.Stake}), nil
}

func cmdTavernLoanTake(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Amount int64 `json:"amount" validate:"required,min=1000,max=25000"`
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
	if _, err := atStardock(g, tx, playerID); err != nil {
		return nil, err
	}
	res, err := tx.Exec(`INSERT OR IGNORE INTO tavern_loans (player_id, principal, taken_at) VALUES (?, ?, ?)`,
		playerID, in.Amount, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefConflict, "settle your outstanding loan first")
	}
	if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, in.Amount, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "tavern.loan_taken", playerID, 0,
		map[string]any{"amount": in.Amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.loan.taken_v1", map[string]any{"amount": in.Amount}), nil
}

func cmdTavernLoanRepay(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Amount int64 `json:"amount" validate:"required,min=1"`
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
	var principal int64
	err = tx.QueryRow(`SELECT principal FROM tavern_loans WHERE player_id = ?`, playerID).Scan(&principal)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefPrecondition, "no outstanding loan")
	}
	if err != nil {
		return nil, err
	}
	pay := in.Amount
	if pay > principal {
		pay = principal
	}
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		pay, playerID, pay)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "not carrying %d credits", pay)
	}
	remaining := principal - pay
	if remaining == 0 {
		if _, err := tx.Exec(`DELETE FROM tavern_loans WHERE player_id = ?`, playerID); err != nil {
			return nil, err
		}
	} else if _, err := tx.Exec(`UPDATE tavern_loans SET principal = ? WHERE player_id = ?`,
		remaining, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "tavern.loan_repaid", playerID, 0,
		map[string]any{"paid": pay, "remaining": remaining}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("tavern.loan.repaid_v1", map[string]any{"paid": pay, "remaining": remaining}), nil
}

func cmdCommSend(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		To      string `json:"to" validate:"required"`
		Subject string `json:"subject" validate:"max=80"`
		Body    string `json:"body" validate:"required,min=1,max=2000"`
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
	var toID int64
	err = tx.QueryRow(`SELECT id FROM players WHERE name = ? AND destroyed = 0`, in.To).Scan(&toID)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no player named %q", in.To)
	}
	if err != nil {
		return nil, err
	}
	res, err := tx.Exec(`INSERT INTO mail (ts, from_id, to_id, subject, body) VALUES (?, ?, ?, ?, ?)`,
		time.Now().Unix(), playerID, toID, in.Subject, in.Body)
	if err != nil {
		return nil, err
	}
	mailID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	g.Cast.DeliverToPlayer(toID, "comm.mail_v1", map[string]any{
		"mail_id": mailID, "subject": in.Subject,
	})
	return proto.OK("comm.sent_v1", map[string]any{"mail_id": mailID, "to": in.To}), nil
}

func cmdCommInbox(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	rows, err := tx.Query(`
		SELECT m.id, m.ts, p.name, m.subject, m.body, m.read_flag
		  FROM mail m JOIN players p ON p.id = m.from_id
		 WHERE m.to_id = ? ORDER BY m.id DESC LIMIT 50`, playerID)
	if err != nil {
		return nil, err
	}

	type letter struct {
		ID      int64  `json:"id"`
		TS      int64  `json:"ts"`
		From    string `json:"from"`
		Subject string `json:"subject,omitempty"`
		Body    string `json:"body"`
		Read    int64  `json:"read"`
	}
	var box []letter
	for rows.Next() {
		var l letter
		if err := rows.Scan(&l.ID, &l.TS, &l.From, &l.Subject, &l.Body, &l.Read); err != nil {
			rows.Close()
			return nil, err
		}
		box = append(box, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE mail SET read_flag = 1 WHERE to_id = ? AND read_flag = 0`, playerID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("comm.inbox_v1", map[string]any{"mail": box}), nil
}

func cmdCommSubspace(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Body    string `json:"body" validate:"required,min=1,max=500"`
		Channel string `json:"channel" validate:"omitempty,oneof=open corp"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Channel == "" {
		in.Channel = "open"
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	var name string
	if err := tx.QueryRow(`SELECT name FROM players WHERE id = ?`, playerID).Scan(&name); err != nil {
		return nil, err
	}
	var corpID int64
	if in.Channel == "corp" {
		corpID, _, err = playerCorp(tx, playerID)
		if err != nil {
			return nil, err
		}
		if corpID == 0 {
			return nil, proto.Refuse(proto.RefPrecondition, "not in a corporation")
		}
	}
	if _, err := tx.Exec(`INSERT INTO subspace (ts, player_id, channel, body) VALUES (?, ?, ?, ?)`,
		time.Now().Unix(), playerID, in.Channel, in.Body); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	msg := map[string]any{"from": name, "channel": in.Channel, "body": in.Body}
	if in.Channel == "corp" {
		rows, err := g.Store.DB.Query(`SELECT player_id FROM corp_members WHERE corp_id = ?`, corpID)
		if err != nil {
			return nil, err
		}
		var members []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			members = append(members, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, id := range members {
			if id != playerID {
				g.Cast.DeliverToPlayer(id, "comm.subspace_v1", msg)
			}
		}
	} else {
		g.Cast.BroadcastAuthed(playerID, "comm.subspace_v1", msg)
	}
	return proto.OK("comm.subspace_sent_v1", map[string]any{"channel": in.Channel}), nil
}

func cmdNewsRecent(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		Limit int64 `json:"limit" validate:"omitempty,min=1,max=100"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}
	if in.Limit == 0 {
		in.Limit = 20
	}

	rows, err := g.Store.DB.Query(`
		SELECT id, ts, category, headline, body FROM news_feed ORDER BY id DESC LIMIT ?`, in.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type story struct {
		ID       int64  `json:"id"`
		TS       int64  `json:"ts"`
		Category string `json:"category"`
		Headline string `json:"headline"`
		Body     string `json:"body,omitempty"`
	}
	var stories []story
	for rows.Next() {
		var s story
		if err := rows.Scan(&s.ID, &s.TS, &s.Category, &s.Headline, &s.Body); err != nil {
			return nil, err
		}
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("news.recent_v1", map[string]any{"stories": stories}), nil
}

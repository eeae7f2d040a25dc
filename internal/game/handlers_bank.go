package game

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
)

func cmdBankBalance(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	acct, err := accountID(tx, PlayerRef(c.PlayerID()))
	if err != nil {
		return nil, err
	}
	var balance, credits int64
	if err := tx.QueryRow(`SELECT balance FROM bank_accounts WHERE id = ?`, acct).Scan(&balance); err != nil {
		return nil, err
	}
	if err := tx.QueryRow(`SELECT credits FROM players WHERE id = ?`, c.PlayerID()).Scan(&credits); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("bank.balance_v1", map[string]any{"balance": balance, "on_hand": credits}), nil
}

type amountInput struct {
	Amount int64 `json:"amount" validate:"required,min=1"`
}

func cmdBankDeposit(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in amountInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	res, err := tx.Exec(`UPDATE players SET credits = credits - ? WHERE id = ? AND credits >= ?`,
		in.Amount, playerID, in.Amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, proto.Refuse(proto.RefInsufficientFunds, "not carrying %d credits", in.Amount)
	}
	acct, err := accountID(tx, PlayerRef(playerID))
	if err != nil {
		return nil, err
	}
	if err := ledger(tx, acct, "CREDIT", in.Amount, "", "deposit"); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "bank.deposit", playerID, 0,
		map[string]any{"amount": in.Amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	var balance int64
	if err := tx.QueryRow(`SELECT balance FROM bank_accounts WHERE id = ?`, acct).Scan(&balance); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("bank.deposited_v1", map[string]any{"amount": in.Amount, "balance": balance}), nil
}

func cmdBankWithdraw(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in amountInput
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	playerID := c.PlayerID()
	acct, err := accountID(tx, PlayerRef(playerID))
	if err != nil {
		return nil, err
	}
	if err := ledger(tx, acct, "DEBIT", in.Amount, "", "withdrawal"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET credits = credits + ? WHERE id = ?`, in.Amount, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "bank.withdraw", playerID, 0,
		map[string]any{"amount": in.Amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	var balance int64
	if err := tx.QueryRow(`SELECT balance FROM bank_accounts WHERE id = ?`, acct).Scan(&balance); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("bank.withdrawn_v1", map[string]any{"amount": in.Amount, "balance": balance}), nil
}

func cmdBankTransfer(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		To     string `json:"to" validate:"required"` // player name
		Amount int64  `json:"amount" validate:"required,min=1"`
	}
	if err := proto.DecodeData(req, &in); err != nil {
		return proto.Errorf(proto.ErrSerialization, "%v", err), nil
	}

	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	var toID int64
	err = tx.QueryRow(`SELECT id FROM players WHERE name = ? AND destroyed = 0`, in.To).Scan(&toID)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no player named %q", in.To)
	}
	if err != nil {
		return nil, err
	}
	if toID == c.PlayerID() {
		return nil, proto.Refuse(proto.RefPrecondition, "cannot transfer to yourself")
	}

	fromAcct, err := accountID(tx, PlayerRef(c.PlayerID()))
	if err != nil {
		return nil, err
	}
	toAcct, err := accountID(tx, PlayerRef(toID))
	if err != nil {
		return nil, err
	}

	// Paired ledger rows sharing one group id make the transfer auditable
	// end to end.
	group := uuid.NewString()
	if err := ledger(tx, fromAcct, "DEBIT", in.Amount, group, "transfer to "+in.To); err != nil {
		return nil, err
	}
	if err := ledger(tx, toAcct, "CREDIT", in.Amount, group, "transfer"); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "bank.transfer", c.PlayerID(), 0,
		map[string]any{"to": toID, "amount": in.Amount, "tx_group_id": group}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	g.Cast.DeliverToPlayer(toID, "bank.transfer_received_v1",
		map[string]any{"amount": in.Amount})
	return proto.OK("bank.transferred_v1", map[string]any{"to": in.To, "amount": in.Amount, "tx_group_id": group}), nil
}

func cmdBankHistory(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	tx, err := g.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer g.Store.Rollback(tx)

	acct, err := accountID(tx, PlayerRef(c.PlayerID()))
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(`
		SELECT ts, direction, amount, tx_group_id, memo
		  FROM bank_transactions WHERE account_id = ? ORDER BY id DESC LIMIT 50`, acct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct {
		TS        int64  `json:"ts"`
		Direction string `json:"direction"`
		Amount    int64  `json:"amount"`
		GroupID   string `json:"tx_group_id,omitempty"`
		Memo      string `json:"memo,omitempty"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.TS, &e.Direction, &e.Amount, &e.GroupID, &e.Memo); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("bank.history_v1", map[string]any{"transactions": entries}), nil
}

func cmdBankLeaderboard(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT p.name, a.balance
		  FROM bank_accounts a JOIN players p ON p.id = a.owner_id
		 WHERE a.owner_type = 'player' AND p.destroyed = 0
		 ORDER BY a.balance DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type row struct {
		Name    string `json:"name"`
		Balance int64  `json:"balance"`
	}
	var board []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Name, &r.Balance); err != nil {
			return nil, err
		}
		board = append(board, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("bank.leaderboard_v1", map[string]any{"leaders": board}), nil
}

func cmdFineList(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	rows, err := g.Store.DB.Query(`
		SELECT id, reason, amount, issued_at FROM law_enforcement
		 WHERE player_id = ? AND paid = 0 ORDER BY id`, c.PlayerID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type fine struct {
		ID       int64  `json:"id"`
		Reason   string `json:"reason"`
		Amount   int64  `json:"amount"`
		IssuedAt int64  `json:"issued_at"`
	}
	var fines []fine
	for rows.Next() {
		var f fine
		if err := rows.Scan(&f.ID, &f.Reason, &f.Amount, &f.IssuedAt); err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return proto.OK("fine.list_v1", map[string]any{"fines": fines}), nil
}

func cmdFinePay(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error) {
	var in struct {
		FineID int64 `json:"fine_id" validate:"required,min=1"`
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
	var amount int64
	err = tx.QueryRow(`SELECT amount FROM law_enforcement WHERE id = ? AND player_id = ? AND paid = 0`,
		in.FineID, playerID).Scan(&amount)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefNotHere, "no such outstanding fine")
	}
	if err != nil {
		return nil, err
	}

	acct, err := accountID(tx, PlayerRef(playerID))
	if err != nil {
		return nil, err
	}
	if err := ledger(tx, acct, "DEBIT", amount, "", "fine"); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE law_enforcement SET paid = 1 WHERE id = ?`, in.FineID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE players SET alignment = alignment + 2 WHERE id = ?`, playerID); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, "fine.paid", playerID, 0,
		map[string]any{"fine_id": in.FineID, "amount": amount}, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return proto.OK("fine.paid_v1", map[string]any{"fine_id": in.FineID, "amount": amount}), nil
}

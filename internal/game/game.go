// Package game implements every client command: each handler is one
// immediate transaction on the store, policy checks inside it, an
// engine_events row on mutation, and exactly one envelope out.
package game

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdearman/twclone-sub004/internal/bus"
	"github.com/rdearman/twclone-sub004/internal/proto"
	"github.com/rdearman/twclone-sub004/internal/store"
)

// FedSpace is sectors 1..FedSpaceMax; hostile actions are refused there.
const FedSpaceMax = 10

type Game struct {
	Store *store.Store
	Cast  *bus.Broadcaster
	Log   zerolog.Logger

	apMu       sync.Mutex
	autopilots map[int64]*route // keyed by player id

	registry map[string]Command
}

type route struct {
	Path    []int64
	Started time.Time
}

type HandlerFunc func(g *Game, c *bus.Client, req *proto.Request) (*proto.Response, error)

type Command struct {
	Fn        HandlerFunc
	NeedsAuth bool
}

func New(st *store.Store, cast *bus.Broadcaster, log zerolog.Logger) *Game {
	g := &Game{
		Store:      st,
		Cast:       cast,
		Log:        log.With().Str("sys", "game").Logger(),
		autopilots: make(map[int64]*route),
	}
	g.registry = g.buildRegistry()
	return g
}

// Lookup resolves a command name; ok is false for unknown commands.
func (g *Game) Lookup(name string) (Command, bool) {
	cmd, ok := g.registry[name]
	return cmd, ok
}

func (g *Game) buildRegistry() map[string]Command {
	r := map[string]Command{}
	open := func(name string, fn HandlerFunc) { r[name] = Command{Fn: fn} }
	authed := func(name string, fn HandlerFunc) { r[name] = Command{Fn: fn, NeedsAuth: true} }

	open("auth.register", cmdAuthRegister)
	open("auth.login", cmdAuthLogin)
	authed("auth.logout", cmdAuthLogout)
	open("auth.refresh", cmdAuthRefresh)

	authed("sector.scan", cmdSectorScan)
	authed("sector.info", cmdSectorInfo)
	authed("sector.search", cmdSectorSearch)
	authed("sector.set_beacon", cmdSectorSetBeacon)

	authed("move.warp", cmdMoveWarp)
	authed("move.pathfind", cmdMovePathfind)
	authed("move.transwarp", cmdMoveTranswarp)
	authed("move.autopilot.start", cmdAutopilotStart)
	authed("move.autopilot.status", cmdAutopilotStatus)
	authed("move.autopilot.stop", cmdAutopilotStop)

	authed("ship.status", cmdShipStatus)
	authed("ship.rename", cmdShipRename)
	authed("ship.claim", cmdShipClaim)
	authed("ship.sell", cmdShipSell)
	authed("ship.transfer", cmdShipTransfer)
	authed("ship.repair", cmdShipRepair)
	authed("ship.upgrade", cmdShipUpgrade)
	authed("ship.self_destruct", cmdShipSelfDestruct)
	authed("ship.tow", cmdShipTow)
	authed("ship.list", cmdShipList)

	authed("trade.quote", cmdTradeQuote)
	authed("trade.buy", cmdTradeBuy)
	authed("trade.sell", cmdTradeSell)
	authed("trade.history", cmdTradeHistory)
	authed("trade.jettison", cmdTradeJettison)
	authed("dock.status", cmdDockStatus)
	authed("port.rob", cmdPortRob)

	authed("bank.balance", cmdBankBalance)
	authed("bank.deposit", cmdBankDeposit)
	authed("bank.withdraw", cmdBankWithdraw)
	authed("bank.transfer", cmdBankTransfer)
	authed("bank.history", cmdBankHistory)
	authed("bank.leaderboard", cmdBankLeaderboard)
	authed("fine.list", cmdFineList)
	authed("fine.pay", cmdFinePay)

	authed("combat.attack", cmdCombatAttack)
	authed("combat.status", cmdCombatStatus)
	authed("combat.attack_planet", cmdCombatAttackPlanet)
	authed("combat.deploy_fighters", cmdDeployFighters)
	authed("combat.deploy_mines", cmdLayMines)
	authed("combat.lay_mines", cmdLayMines)
	authed("combat.sweep_mines", cmdSweepMines)
	authed("combat.scrub_mines", cmdScrubMines)
	authed("fighters.recall", cmdFightersRecall)
	authed("mines.recall", cmdMinesRecall)

	authed("planet.land", cmdPlanetLand)
	authed("planet.launch", cmdPlanetLaunch)
	authed("planet.info", cmdPlanetInfo)
	authed("planet.rename", cmdPlanetRename)
	authed("planet.claim", cmdPlanetClaim)
	authed("planet.deposit", cmdPlanetDeposit)
	authed("planet.withdraw", cmdPlanetWithdraw)
	authed("planet.genesis", cmdPlanetGenesis)
	authed("citadel.build", cmdCitadelBuild)
	authed("citadel.upgrade", cmdCitadelUpgrade)

	authed("stardock.info", cmdStardockInfo)
	authed("hardware.list", cmdHardwareList)
	authed("hardware.buy", cmdHardwareBuy)
	authed("shipyard.list", cmdShipyardList)
	authed("shipyard.upgrade", cmdShipyardUpgrade)

	authed("corp.create", cmdCorpCreate)
	authed("corp.join", cmdCorpJoin)
	authed("corp.leave", cmdCorpLeave)
	authed("corp.info", cmdCorpInfo)
	authed("corp.roster", cmdCorpRoster)
	authed("corp.promote", cmdCorpPromote)
	authed("corp.kick", cmdCorpKick)
	authed("corp.deposit", cmdCorpDeposit)
	authed("corp.withdraw", cmdCorpWithdraw)

	authed("tavern.notice.post", cmdTavernNoticePost)
	authed("tavern.notice.list", cmdTavernNoticeList)
	authed("tavern.lottery.buy", cmdTavernLotteryBuy)
	authed("tavern.deadpool.bet", cmdTavernDeadpoolBet)
	authed("tavern.loan.take", cmdTavernLoanTake)
	authed("tavern.loan.repay", cmdTavernLoanRepay)

	authed("comm.send", cmdCommSend)
	authed("comm.inbox", cmdCommInbox)
	authed("comm.subspace", cmdCommSubspace)
	authed("news.recent", cmdNewsRecent)

	return r
}

// OwnerRef is the tagged form of the polymorphic (owner_type, owner_id)
// pairs in the store.
type OwnerRef struct {
	Type string
	ID   int64
}

func PlayerRef(id int64) OwnerRef { return OwnerRef{Type: "player", ID: id} }
func CorpRef(id int64) OwnerRef   { return OwnerRef{Type: "corp", ID: id} }
func PortRef(id int64) OwnerRef   { return OwnerRef{Type: "port", ID: id} }

// appendEvent writes one engine_events row. idem may be empty.
func appendEvent(tx *sql.Tx, typ string, actor, sector int64, payload any, idem string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var actorV, sectorV any
	if actor != 0 {
		actorV = actor
	}
	if sector != 0 {
		sectorV = sector
	}
	var idemV any
	if idem != "" {
		idemV = idem
	}
	_, err = tx.Exec(`INSERT INTO engine_events (ts, type, actor_player_id, sector_id, payload, idem_key)
		VALUES (?, ?, ?, ?, ?, ?)`, time.Now().Unix(), typ, actorV, sectorV, string(raw), idemV)
	return err
}

// accountID returns the owner's CRD account id, creating it lazily.
func accountID(tx *sql.Tx, ref OwnerRef) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM bank_accounts WHERE owner_type = ? AND owner_id = ? AND currency = 'CRD'`,
		ref.Type, ref.ID).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.Exec(`INSERT INTO bank_accounts (owner_type, owner_id, currency, created_at) VALUES (?, ?, 'CRD', ?)`,
			ref.Type, ref.ID, time.Now().Unix())
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	return id, err
}

// ledger appends one bank_transactions row; the trigger keeps the balance in
// step and aborts on overdraft, which surfaces here as a refusal.
func ledger(tx *sql.Tx, account int64, direction string, amount int64, group, memo string) error {
	if amount <= 0 {
		return proto.Refuse(proto.RefPrecondition, "amount must be positive")
	}
	_, err := tx.Exec(`INSERT INTO bank_transactions (ts, account_id, direction, amount, tx_group_id, memo)
		VALUES (?, ?, ?, ?, ?, ?)`, time.Now().Unix(), account, direction, amount, group, memo)
	if err != nil && strings.Contains(err.Error(), "overdraft") {
		return proto.Refuse(proto.RefInsufficientFunds, "insufficient funds")
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ship is the actor's active ship joined with its type capabilities.
type Ship struct {
	ID, TypeID, SectorID                               int64
	Name, TypeName                                     string
	Holds, Ore, Organics, Equipment, Colonists         int64
	IllegalGoods                                       int64
	Fighters, Shields, Mines, Limpets, Photons         int64
	Probes, Detonators, Genesis, Hull                  int64
	Cloaked, Docked, LandedPlanet                      int64
	MaxFighters, MaxShields, MaxMines, MaxLimpets      int64
	MaxPhotons, MaxGenesis, MaxHull, MaxHolds          int64
	CanTranswarp, HasScanners, CanCloak, TurnsPerWarp  int64
}

func (s *Ship) CargoUsed() int64 { return s.Ore + s.Organics + s.Equipment + s.Colonists }

func loadShip(tx *sql.Tx, playerID int64) (*Ship, error) {
	sh := &Ship{}
	err := tx.QueryRow(`
		SELECT s.id, s.type_id, s.sector_id, s.name, t.name,
		       s.holds, s.ore, s.organics, s.equipment, s.colonists, s.illegal_goods,
		       s.fighters, s.shields, s.mines, s.limpets, s.photons,
		       s.probes, s.detonators, s.genesis, s.hull,
		       s.cloaked, s.docked, s.landed_planet,
		       t.max_fighters, t.max_shields, t.max_mines, t.max_limpets,
		       t.max_photons, t.max_genesis, t.max_hull, t.max_holds,
		       t.can_transwarp, t.has_scanners, t.can_cloak, t.turns_per_warp
		  FROM players p
		  JOIN ships s ON s.id = p.active_ship AND s.destroyed = 0
		  JOIN shiptypes t ON t.id = s.type_id
		 WHERE p.id = ?`, playerID).Scan(
		&sh.ID, &sh.TypeID, &sh.SectorID, &sh.Name, &sh.TypeName,
		&sh.Holds, &sh.Ore, &sh.Organics, &sh.Equipment, &sh.Colonists, &sh.IllegalGoods,
		&sh.Fighters, &sh.Shields, &sh.Mines, &sh.Limpets, &sh.Photons,
		&sh.Probes, &sh.Detonators, &sh.Genesis, &sh.Hull,
		&sh.Cloaked, &sh.Docked, &sh.LandedPlanet,
		&sh.MaxFighters, &sh.MaxShields, &sh.MaxMines, &sh.MaxLimpets,
		&sh.MaxPhotons, &sh.MaxGenesis, &sh.MaxHull, &sh.MaxHolds,
		&sh.CanTranswarp, &sh.HasScanners, &sh.CanCloak, &sh.TurnsPerWarp)
	if err == sql.ErrNoRows {
		return nil, proto.Refuse(proto.RefPrecondition, "no active ship")
	}
	if err != nil {
		return nil, err
	}
	return sh, nil
}

func sectorExists(tx *sql.Tx, id int64) (bool, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sectors WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func inFedSpace(sector int64) bool { return sector >= 1 && sector <= FedSpaceMax }

func playerCorp(tx *sql.Tx, playerID int64) (corpID int64, role string, err error) {
	err = tx.QueryRow(`SELECT corp_id, role FROM corp_members WHERE player_id = ?`, playerID).Scan(&corpID, &role)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	return corpID, role, err
}

// spendTurns decrements the player's turn budget, refusing when short.
func spendTurns(tx *sql.Tx, playerID, cost int64) error {
	res, err := tx.Exec(`UPDATE players SET turns = turns - ? WHERE id = ? AND turns >= ?`,
		cost, playerID, cost)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return proto.Refuse(proto.RefTurnCostExceeds, "not enough turns (need %d)", cost)
	}
	return nil
}

func fmtOwner(ref OwnerRef) string { return fmt.Sprintf("%s:%d", ref.Type, ref.ID) }

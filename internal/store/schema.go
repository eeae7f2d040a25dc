package store

// schemaSQL is the single source of truth for the database layout. It is
// executed in full on first boot (missing config table) and is written so a
// re-run is harmless: every CREATE carries IF NOT EXISTS.
const schemaSQL = `
-- Operator-tunable configuration, key/value typed.
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	type  TEXT NOT NULL DEFAULT 'string' CHECK(type IN ('string','int','bool'))
);

-- ===== Universe =====

CREATE TABLE IF NOT EXISTS sectors (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL,
	beacon    TEXT,
	nebula    TEXT,
	safe_zone INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sector_warps (
	from_sector INTEGER NOT NULL,
	to_sector   INTEGER NOT NULL,
	PRIMARY KEY (from_sector, to_sector)
);
CREATE INDEX IF NOT EXISTS idx_warps_from ON sector_warps(from_sector);

CREATE TABLE IF NOT EXISTS planettypes (
	class          TEXT PRIMARY KEY,          -- M/L/O/K/H/U/C
	name           TEXT NOT NULL,
	ore_rate       INTEGER NOT NULL DEFAULT 0, -- produced per colonist per growth tick, x1000
	organics_rate  INTEGER NOT NULL DEFAULT 0,
	equipment_rate INTEGER NOT NULL DEFAULT 0,
	max_colonists  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS planets (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	sector_id       INTEGER NOT NULL,
	name            TEXT NOT NULL,
	class           TEXT NOT NULL DEFAULT 'M',
	owner_type      TEXT NOT NULL DEFAULT 'system' CHECK(owner_type IN ('player','corp','npc_faction','system')),
	owner_id        INTEGER NOT NULL DEFAULT 0,
	population      INTEGER NOT NULL DEFAULT 0,
	colonists       INTEGER NOT NULL DEFAULT 0,
	ore_on_hand     INTEGER NOT NULL DEFAULT 0,
	organics_on_hand INTEGER NOT NULL DEFAULT 0,
	equipment_on_hand INTEGER NOT NULL DEFAULT 0,
	fighters        INTEGER NOT NULL DEFAULT 0,
	genesis_made    INTEGER NOT NULL DEFAULT 0,
	terraform_count INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_planets_sector ON planets(sector_id);

CREATE TABLE IF NOT EXISTS citadels (
	planet_id           INTEGER PRIMARY KEY,
	level               INTEGER NOT NULL DEFAULT 0,
	construction_status TEXT NOT NULL DEFAULT 'idle' CHECK(construction_status IN ('idle','upgrading')),
	target_level        INTEGER NOT NULL DEFAULT 0,
	start_ts            INTEGER NOT NULL DEFAULT 0,
	end_ts              INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS citadel_requirements (
	level      INTEGER PRIMARY KEY,
	ore        INTEGER NOT NULL,
	organics   INTEGER NOT NULL,
	equipment  INTEGER NOT NULL,
	colonists  INTEGER NOT NULL,
	days       INTEGER NOT NULL
);

-- ===== Actors =====

CREATE TABLE IF NOT EXISTS players (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL UNIQUE,
	pass_digest   TEXT NOT NULL,
	home_sector   INTEGER NOT NULL DEFAULT 1,
	active_ship   INTEGER NOT NULL DEFAULT 0,
	experience    INTEGER NOT NULL DEFAULT 0,
	alignment     INTEGER NOT NULL DEFAULT 0,
	commission    TEXT NOT NULL DEFAULT 'Civilian',
	credits       INTEGER NOT NULL DEFAULT 0,
	turns         INTEGER NOT NULL DEFAULT 1000,
	turns_per_day INTEGER NOT NULL DEFAULT 1000,
	flags         INTEGER NOT NULL DEFAULT 0,
	destroyed     INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL DEFAULT 0,
	last_seen     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS shiptypes (
	id             INTEGER PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	base_cost      INTEGER NOT NULL,
	max_holds      INTEGER NOT NULL,
	max_fighters   INTEGER NOT NULL,
	max_shields    INTEGER NOT NULL,
	max_mines      INTEGER NOT NULL DEFAULT 0,
	max_limpets    INTEGER NOT NULL DEFAULT 0,
	max_photons    INTEGER NOT NULL DEFAULT 0,
	max_genesis    INTEGER NOT NULL DEFAULT 0,
	max_hull       INTEGER NOT NULL DEFAULT 100,
	turns_per_warp INTEGER NOT NULL DEFAULT 1,
	can_transwarp  INTEGER NOT NULL DEFAULT 0,
	has_scanners   INTEGER NOT NULL DEFAULT 0,
	can_cloak      INTEGER NOT NULL DEFAULT 0,
	min_experience INTEGER NOT NULL DEFAULT 0,
	min_alignment  INTEGER NOT NULL DEFAULT -99999,
	commission_req TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ships (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	type_id     INTEGER NOT NULL,
	sector_id   INTEGER NOT NULL DEFAULT 1,
	holds       INTEGER NOT NULL,
	ore         INTEGER NOT NULL DEFAULT 0,
	organics    INTEGER NOT NULL DEFAULT 0,
	equipment   INTEGER NOT NULL DEFAULT 0,
	colonists   INTEGER NOT NULL DEFAULT 0,
	illegal_goods INTEGER NOT NULL DEFAULT 0,
	fighters    INTEGER NOT NULL DEFAULT 0,
	shields     INTEGER NOT NULL DEFAULT 0,
	mines       INTEGER NOT NULL DEFAULT 0,
	limpets     INTEGER NOT NULL DEFAULT 0,
	photons     INTEGER NOT NULL DEFAULT 0,
	probes      INTEGER NOT NULL DEFAULT 0,
	detonators  INTEGER NOT NULL DEFAULT 0,
	genesis     INTEGER NOT NULL DEFAULT 0,
	hull        INTEGER NOT NULL DEFAULT 100,
	cloaked     INTEGER NOT NULL DEFAULT 0,
	cloaked_at  INTEGER NOT NULL DEFAULT 0,
	docked      INTEGER NOT NULL DEFAULT 0,
	landed_planet INTEGER NOT NULL DEFAULT 0,
	destroyed   INTEGER NOT NULL DEFAULT 0,
	CHECK (ore >= 0 AND organics >= 0 AND equipment >= 0 AND colonists >= 0),
	CHECK (ore + organics + equipment + colonists <= holds)
);
CREATE INDEX IF NOT EXISTS idx_ships_sector ON ships(sector_id);

CREATE TABLE IF NOT EXISTS ship_ownership (
	player_id  INTEGER NOT NULL,
	ship_id    INTEGER NOT NULL,
	role       TEXT NOT NULL DEFAULT 'Pilot',
	is_primary INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (player_id, ship_id)
);

CREATE TABLE IF NOT EXISTS npc_ships (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	faction   TEXT NOT NULL,                  -- ferringhi / orion / iss
	name      TEXT NOT NULL,
	sector_id INTEGER NOT NULL,
	fighters  INTEGER NOT NULL DEFAULT 0
);

-- ===== Economy =====

CREATE TABLE IF NOT EXISTS commodities (
	code       TEXT PRIMARY KEY,              -- ORE / ORG / EQU
	name       TEXT NOT NULL,
	base_price INTEGER NOT NULL,
	volatility INTEGER NOT NULL DEFAULT 10
);

CREATE TABLE IF NOT EXISTS economy_curve (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	multiplier REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS ports (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sector_id  INTEGER NOT NULL,
	name       TEXT NOT NULL,
	trade_code TEXT NOT NULL,                 -- e.g. BBS: B/S per ore,organics,equipment
	size       INTEGER NOT NULL DEFAULT 5,
	tech_level INTEGER NOT NULL DEFAULT 1,
	petty_cash INTEGER NOT NULL DEFAULT 100000,
	curve_id   INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_ports_sector ON ports(sector_id);

CREATE TABLE IF NOT EXISTS entity_stock (
	entity_type    TEXT NOT NULL,
	entity_id      INTEGER NOT NULL,
	commodity_code TEXT NOT NULL,
	quantity       INTEGER NOT NULL DEFAULT 0 CHECK(quantity >= 0),
	price          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, entity_id, commodity_code)
);

CREATE TABLE IF NOT EXISTS trade_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	player_id  INTEGER NOT NULL,
	port_id    INTEGER NOT NULL,
	commodity  TEXT NOT NULL,
	direction  TEXT NOT NULL CHECK(direction IN ('buy','sell')),
	quantity   INTEGER NOT NULL,
	unit_price INTEGER NOT NULL,
	total      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_log_player ON trade_log(player_id, id);

-- ===== Banking =====
-- Balances are maintained by trigger from the ledger; application code only
-- ever inserts bank_transactions rows.

CREATE TABLE IF NOT EXISTS bank_accounts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_type TEXT NOT NULL CHECK(owner_type IN ('player','corp','npc_faction','port','system')),
	owner_id   INTEGER NOT NULL,
	currency   TEXT NOT NULL DEFAULT 'CRD',
	balance    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE (owner_type, owner_id, currency)
);

CREATE TABLE IF NOT EXISTS bank_transactions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	account_id  INTEGER NOT NULL,
	direction   TEXT NOT NULL CHECK(direction IN ('CREDIT','DEBIT')),
	amount      INTEGER NOT NULL CHECK(amount > 0),
	tx_group_id TEXT NOT NULL DEFAULT '',
	memo        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bank_tx_account ON bank_transactions(account_id, id);

CREATE TABLE IF NOT EXISTS bank_interest_policy (
	owner_type TEXT PRIMARY KEY,
	daily_bp   INTEGER NOT NULL DEFAULT 0     -- basis points per day
);

CREATE TABLE IF NOT EXISTS law_enforcement (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id  INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	amount     INTEGER NOT NULL,
	issued_at  INTEGER NOT NULL,
	paid       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS port_busts (
	player_id INTEGER NOT NULL,
	port_id   INTEGER NOT NULL,
	busted_at INTEGER NOT NULL,
	PRIMARY KEY (player_id, port_id)
);

-- ===== Social =====

CREATE TABLE IF NOT EXISTS corporations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL COLLATE NOCASE UNIQUE,
	tag        TEXT NOT NULL UNIQUE,
	owner_id   INTEGER NOT NULL,
	created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS corp_members (
	corp_id   INTEGER NOT NULL,
	player_id INTEGER NOT NULL UNIQUE,
	role      TEXT NOT NULL DEFAULT 'Member' CHECK(role IN ('Leader','Officer','Member')),
	joined_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (corp_id, player_id)
);

CREATE TABLE IF NOT EXISTS corp_stocks (
	corp_id     INTEGER PRIMARY KEY,
	shares      INTEGER NOT NULL DEFAULT 1000,
	share_price INTEGER NOT NULL DEFAULT 100,
	last_recalc INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stock_orders (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	corp_id   INTEGER NOT NULL,
	player_id INTEGER NOT NULL,
	side      TEXT NOT NULL CHECK(side IN ('buy','sell')),
	shares    INTEGER NOT NULL,
	placed_at INTEGER NOT NULL,
	settled   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mail (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        INTEGER NOT NULL,
	from_id   INTEGER NOT NULL,
	to_id     INTEGER NOT NULL,
	subject   TEXT NOT NULL DEFAULT '',
	body      TEXT NOT NULL,
	read_flag INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mail_to ON mail(to_id, id);

CREATE TABLE IF NOT EXISTS subspace (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        INTEGER NOT NULL,
	player_id INTEGER NOT NULL,
	channel   TEXT NOT NULL DEFAULT 'open',
	body      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS news_feed (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	headline TEXT NOT NULL,
	body     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS system_notices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	body       TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

-- ===== Tavern =====

CREATE TABLE IF NOT EXISTS tavern_notices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	player_id  INTEGER NOT NULL,
	body       TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tavern_lottery (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	day_id    INTEGER NOT NULL,
	player_id INTEGER NOT NULL,
	stake     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tavern_deadpool (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	bettor_id  INTEGER NOT NULL,
	target_id  INTEGER NOT NULL,
	stake      INTEGER NOT NULL,
	placed_at  INTEGER NOT NULL,
	resolved   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tavern_loans (
	player_id  INTEGER PRIMARY KEY,
	principal  INTEGER NOT NULL,
	taken_at   INTEGER NOT NULL
);

-- ===== Deployed assets =====

CREATE TABLE IF NOT EXISTS sector_fighters (
	sector_id  INTEGER NOT NULL,
	owner_type TEXT NOT NULL,
	owner_id   INTEGER NOT NULL,
	quantity   INTEGER NOT NULL CHECK(quantity >= 0),
	mode       TEXT NOT NULL DEFAULT 'defensive' CHECK(mode IN ('defensive','offensive','toll')),
	PRIMARY KEY (sector_id, owner_type, owner_id)
);

CREATE TABLE IF NOT EXISTS sector_mines (
	sector_id  INTEGER NOT NULL,
	owner_type TEXT NOT NULL,
	owner_id   INTEGER NOT NULL,
	kind       TEXT NOT NULL CHECK(kind IN ('armid','limpet')),
	quantity   INTEGER NOT NULL CHECK(quantity >= 0),
	laid_at    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (sector_id, owner_type, owner_id, kind)
);

-- ===== Stardock =====

CREATE TABLE IF NOT EXISTS hardware_items (
	code       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	unit_price INTEGER NOT NULL,
	ship_column TEXT NOT NULL                 -- ships column the item increments
);

CREATE TABLE IF NOT EXISTS shipyard_inventory (
	shiptype_id INTEGER PRIMARY KEY,
	in_stock    INTEGER NOT NULL DEFAULT 1
);

-- ===== Engine =====

CREATE TABLE IF NOT EXISTS engine_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ts              INTEGER NOT NULL,
	type            TEXT NOT NULL,
	actor_player_id INTEGER,
	sector_id       INTEGER,
	payload         TEXT NOT NULL DEFAULT '{}',
	idem_key        TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS engine_events_deadletter (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	cmd_id    INTEGER NOT NULL,
	type      TEXT NOT NULL,
	payload   TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL DEFAULT 0,
	moved_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_commands (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	type     TEXT NOT NULL,
	payload  TEXT NOT NULL DEFAULT '{}',
	status   TEXT NOT NULL DEFAULT 'ready' CHECK(status IN ('ready','running','done','failed')),
	due_at   INTEGER NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	idem_key TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS engine_offset (
	key           TEXT PRIMARY KEY,
	last_event_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cron_tasks (
	name        TEXT PRIMARY KEY,
	schedule    TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_run_at INTEGER NOT NULL DEFAULT 0,
	next_due_at INTEGER NOT NULL DEFAULT 0,
	payload     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS locks (
	lock_name TEXT PRIMARY KEY,
	owner     TEXT NOT NULL,
	until_ms  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency (
	key        TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	req_fp     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'in_progress' CHECK(status IN ('in_progress','done')),
	response   TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	player_id  INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions(player_id);

CREATE TABLE IF NOT EXISTS s2s_keys (
	key_id  TEXT PRIMARY KEY,
	secret  TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS world_snapshots (
	day_id     INTEGER PRIMARY KEY,
	state_blob BLOB NOT NULL,
	final_hash TEXT NOT NULL
);
`

// railsSQL creates the append-only triggers and read views. Run on every
// boot: CREATE ... IF NOT EXISTS throughout, so upgrades can add rails to an
// existing file.
const railsSQL = `
-- The ledger is immutable and balances follow it.
CREATE TRIGGER IF NOT EXISTS bank_tx_no_update BEFORE UPDATE ON bank_transactions
BEGIN SELECT RAISE(ABORT, 'bank ledger is append-only'); END;

CREATE TRIGGER IF NOT EXISTS bank_tx_no_delete BEFORE DELETE ON bank_transactions
BEGIN SELECT RAISE(ABORT, 'bank ledger is append-only'); END;

CREATE TRIGGER IF NOT EXISTS bank_tx_apply AFTER INSERT ON bank_transactions
BEGIN
	UPDATE bank_accounts
	   SET balance = balance + CASE NEW.direction WHEN 'CREDIT' THEN NEW.amount ELSE -NEW.amount END
	 WHERE id = NEW.account_id;
	SELECT RAISE(ABORT, 'overdraft forbidden')
	 WHERE (SELECT balance FROM bank_accounts WHERE id = NEW.account_id) < 0;
	SELECT RAISE(ABORT, 'no such account')
	 WHERE NOT EXISTS (SELECT 1 FROM bank_accounts WHERE id = NEW.account_id);
END;

-- Engine events are history; history does not change.
CREATE TRIGGER IF NOT EXISTS engine_events_no_update BEFORE UPDATE ON engine_events
BEGIN SELECT RAISE(ABORT, 'engine_events is append-only'); END;

CREATE TRIGGER IF NOT EXISTS engine_events_no_delete BEFORE DELETE ON engine_events
BEGIN SELECT RAISE(ABORT, 'engine_events is append-only'); END;

CREATE VIEW IF NOT EXISTS player_info_v1 AS
SELECT p.id, p.name, p.experience, p.alignment, p.commission, p.credits, p.turns,
       s.id AS ship_id, s.name AS ship_name, s.sector_id,
       t.name AS ship_type
  FROM players p
  LEFT JOIN ships s ON s.id = p.active_ship
  LEFT JOIN shiptypes t ON t.id = s.type_id;

CREATE VIEW IF NOT EXISTS player_locations AS
SELECT p.id AS player_id, p.name, s.sector_id
  FROM players p JOIN ships s ON s.id = p.active_ship
 WHERE s.destroyed = 0;

CREATE VIEW IF NOT EXISTS sector_ops AS
SELECT sec.id AS sector_id, sec.name, sec.safe_zone,
       (SELECT COUNT(*) FROM ports WHERE ports.sector_id = sec.id)   AS port_count,
       (SELECT COUNT(*) FROM planets WHERE planets.sector_id = sec.id) AS planet_count,
       (SELECT COUNT(*) FROM ships WHERE ships.sector_id = sec.id AND ships.destroyed = 0) AS ship_count
  FROM sectors sec;

CREATE VIEW IF NOT EXISTS world_summary AS
SELECT (SELECT COUNT(*) FROM sectors)                    AS sectors,
       (SELECT COUNT(*) FROM players WHERE destroyed = 0) AS players,
       (SELECT COUNT(*) FROM ships WHERE destroyed = 0)   AS ships,
       (SELECT COUNT(*) FROM planets)                     AS planets,
       (SELECT COUNT(*) FROM ports)                       AS ports,
       (SELECT COALESCE(SUM(balance),0) FROM bank_accounts) AS credits_banked,
       (SELECT COALESCE(MAX(id),0) FROM engine_events)    AS last_event_id;
`

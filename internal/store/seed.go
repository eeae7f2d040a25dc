package store

// Reference rows. All inserts are INSERT OR IGNORE so a reboot never
// duplicates or clobbers live data.
const seedSQL = `
INSERT OR IGNORE INTO config (key, value, type) VALUES
	('server_port',     '1234',  'int'),
	('s2s_port',        '4321',  'int'),
	('session_ttl_sec', '86400', 'int'),
	('rate_limit',      '10',    'int'),
	('rate_burst',      '20',    'int'),
	('turns_per_day',   '1000',  'int'),
	('start_credits',   '2000',  'int'),
	('bank_opening',    '1000',  'int'),
	('news_keep_days',  '14',    'int'),
	('limpet_ttl_sec',  '604800','int'),
	('cloak_ttl_sec',   '3600',  'int'),
	('stardock_sector', '1',     'int');

INSERT OR IGNORE INTO commodities (code, name, base_price, volatility) VALUES
	('ORE', 'Fuel Ore',  12, 10),
	('ORG', 'Organics',  25, 15),
	('EQU', 'Equipment', 60, 20);

INSERT OR IGNORE INTO economy_curve (id, name, multiplier) VALUES
	(1, 'standard',  1.0),
	(2, 'boom',      1.2),
	(3, 'depressed', 0.8);

INSERT OR IGNORE INTO shiptypes
	(id, name, base_cost, max_holds, max_fighters, max_shields, max_mines, max_limpets,
	 max_photons, max_genesis, max_hull, turns_per_warp, can_transwarp, has_scanners,
	 can_cloak, min_experience, min_alignment, commission_req) VALUES
	(1, 'Merchant Cruiser',   41300,  75,  2500,  400, 50,  0, 0, 5, 100, 1, 0, 1, 0, 0, -99999, ''),
	(2, 'Scout Marauder',     15950,  25,   250,  100, 0,   0, 0, 0,  60, 1, 0, 1, 0, 0, -99999, ''),
	(3, 'Missile Frigate',
	 100000, 60, 5000,  400, 50,  5, 1, 0, 120, 1, 0, 0, 0, 100, -99999, ''),
	(4, 'BattleShip',        178300,  80, 10000,  750, 75, 10, 1, 1, 180, 1, 0, 1, 0, 300, -99999, ''),
	(5, 'Corporate FlagShip',278500,  85, 20000, 1500, 50, 10, 1, 2, 200, 1, 1, 1, 0, 500, -99999, ''),
	(6, 'Colony Transport',   63600, 250,   200,  500, 0,   0, 0, 1, 150, 2, 0, 0, 0, 50, -99999, ''),
	(7, 'CargoTran',          51950, 125,   400,  750, 5,   5, 0, 1, 130, 1, 0, 0, 0, 0, -99999, ''),
	(8, 'Imperial StarShip', 329000, 150, 50000, 2000, 125, 10, 2, 4, 250, 1, 1, 1, 1, 1000, 500, 'Lieutenant');

INSERT OR IGNORE INTO planettypes (class, name, ore_rate, organics_rate, equipment_rate, max_colonists) VALUES
	('M', 'Earth Type',       3, 2, 1, 100000),
	('L', 'Mountainous',      5, 1, 1,  30000),
	('O', 'Oceanic',          1, 6, 1,  60000),
	('K', 'Desert Wasteland', 4, 1, 2,  10000),
	('H', 'Volcanic',         8, 0, 1,   5000),
	('U', 'Gaseous',          0, 1, 5,   8000),
	('C', 'Glacial',          2, 1, 3,  12000);

INSERT OR IGNORE INTO citadel_requirements (level, ore, organics, equipment, colonists, days) VALUES
	(1,  300,  200,  250,  1000, 1),
	(2,  500,  450,  500,  2000, 2),
	(3, 1000,  850, 1200,  4000, 3),
	(4, 2000, 1500, 2500,  8000, 4),
	(5, 3500, 3000, 4500, 15000, 5),
	(6, 6000, 5500, 9000, 30000, 7);

INSERT OR IGNORE INTO hardware_items (code, name, unit_price, ship_column) VALUES
	('FTR', 'Fighter',           200, 'fighters'),
	('SHD', 'Shield Point',      300, 'shields'),
	('MIN', 'Armid Mine',       1000, 'mines'),
	('LIM', 'Limpet Mine',       500, 'limpets'),
	('PHO', 'Photon Missile',   5000, 'photons'),
	('PRO', 'Ether Probe',      1000, 'probes'),
	('DET', 'Atomic Detonator', 2000, 'detonators'),
	('GEN', 'Genesis Torpedo', 50000, 'genesis');

INSERT OR IGNORE INTO shipyard_inventory (shiptype_id, in_stock)
	SELECT id, 1 FROM shiptypes;

INSERT OR IGNORE INTO bank_interest_policy (owner_type, daily_bp) VALUES
	('player', 5),
	('corp',   3);

INSERT OR IGNORE INTO engine_offset (key, last_event_id) VALUES ('events', 0), ('news', 0);

INSERT OR IGNORE INTO planets (id, sector_id, name, class, owner_type, owner_id, population, colonists,
	ore_on_hand, organics_on_hand, equipment_on_hand)
	VALUES (1, 1, 'Terra', 'M', 'system', 0, 4000000, 1000000, 0, 0, 0);

INSERT OR IGNORE INTO npc_ships (id, faction, name, sector_id, fighters) VALUES
	(1, 'ferringhi', 'Ferringhi Trader',      14, 400),
	(2, 'orion',     'Orion Raider',          23, 1200),
	(3, 'iss',       'Interstellar Shipping', 11, 100);
`

type warpPair struct{ a, b int64 }

// FedSpace core (1-10) plus two frontier loops. Pairs are expanded in both
// directions; the handful of one-way edges below keep the graph honest about
// asymmetric adjacency.
var seedWarps = []warpPair{
	{1, 2}, {1, 3}, {1, 4}, {1, 5}, {1, 6}, {1, 7},
	{2, 3}, {3, 4}, {4, 5}, {5, 6}, {6, 7}, {7, 2},
	{2, 8}, {2, 9}, {3, 10}, {8, 9}, {9, 10},
	{10, 11}, {11, 12}, {12, 13}, {13, 14}, {14, 15}, {15, 16},
	{16, 17}, {17, 18}, {18, 19}, {19, 20}, {20, 11},
	{5, 21}, {21, 22}, {22, 23}, {23, 24}, {24, 25}, {25, 26},
	{26, 27}, {27, 28}, {28, 29}, {29, 30}, {30, 21},
	{13, 25},
}

var seedOneWayWarps = []warpPair{
	{17, 4}, {28, 12},
}

type seedPort struct {
	sector    int64
	name      string
	tradeCode string
	size      int64
	curve     int64
}

var seedPorts = []seedPort{
	{1, "Sol Stardock", "SSS", 10, 1},
	{2, "Alpha Centauri Trading Post", "BBS", 5, 1},
	{4, "Rylos Exchange", "SBB", 4, 1},
	{6, "Barnard Depot", "BSB", 5, 2},
	{9, "Wolf 359 Freight", "SSB", 3, 1},
	{12, "Frontier Outfitters", "BSS", 6, 2},
	{18, "Deepwater Cartel", "SBS", 4, 3},
	{24, "Antares Combine", "BBS", 7, 1},
	{29, "Last Chance Salvage", "SBB", 2, 3},
}

var seedCronTasks = [][2]string{
	{"daily_turn_reset", "daily@05:00Z"},
	{"terra_replenish", "every:1h"},
	{"planet_growth", "every:30m"},
	{"fedspace_cleanup", "every:15m"},
	{"autouncloak_sweeper", "every:5m"},
	{"npc_step", "every:2m"},
	{"broadcast_ttl_cleanup", "every:10m"},
	{"daily_news_compiler", "daily@06:00Z"},
	{"traps_process", "every:1m"},
	{"cleanup_old_news", "daily@06:30Z"},
	{"limpet_ttl_cleanup", "every:1h"},
	{"daily_lottery_draw", "daily@20:00Z"},
	{"deadpool_resolution_cron", "every:1h"},
	{"tavern_notice_expiry_cron", "every:1h"},
	{"loan_shark_interest_cron", "daily@04:00Z"},
	{"dividend_payout", "daily@07:00Z"},
	{"daily_stock_price_recalculation", "daily@07:30Z"},
	{"daily_market_settlement", "daily@08:00Z"},
	{"system_notice_ttl", "every:30m"},
	{"deadletter_retry", "every:5m"},
	{"daily_corp_tax", "daily@03:00Z"},
	{"daily_bank_interest_tick", "daily@02:00Z"},
	{"port_economy_tick", "every:10m"},
	{"planet_market_tick", "every:30m"},
	{"shield_regen_tick", "every:5m"},
	{"world_snapshot", "daily@00:10Z"},
}

// Package cron drives the background economy: a polling runner picks up due
// tasks from cron_tasks, takes a per-task advisory lock so multiple server
// processes never double-fire, and always advances the task's next due time
// whether the handler succeeded or not.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rdearman/twclone-sub004/internal/store"
)

// TaskFunc is one scheduled job. It gets the tick's wall-clock time so a
// task's view of "now" is stable across its whole run.
type TaskFunc func(st *store.Store, now time.Time) error

const pollInterval = 30 * time.Second

type Runner struct {
	St    *store.Store
	Log   zerolog.Logger
	owner string
	tasks map[string]TaskFunc
}

func New(st *store.Store, log zerolog.Logger) *Runner {
	r := &Runner{
		St:    st,
		Log:   log.With().Str("sys", "cron").Logger(),
		owner: "cron-" + uuid.NewString(),
	}
	r.tasks = map[string]TaskFunc{
		"daily_turn_reset":                taskDailyTurnReset,
		"terra_replenish":                 taskTerraReplenish,
		"planet_growth":                   taskPlanetGrowth,
		"fedspace_cleanup":                taskFedSpaceCleanup,
		"autouncloak_sweeper":             taskAutoUncloak,
		"npc_step":                        taskNPCStep,
		"broadcast_ttl_cleanup":           taskBroadcastTTLCleanup,
		"daily_news_compiler":             taskDailyNewsCompiler,
		"traps_process":                   taskTrapsProcess,
		"cleanup_old_news":                taskCleanupOldNews,
		"limpet_ttl_cleanup":              taskLimpetTTLCleanup,
		"daily_lottery_draw":              taskDailyLotteryDraw,
		"deadpool_resolution_cron":        taskDeadpoolResolution,
		"tavern_notice_expiry_cron":       taskTavernNoticeExpiry,
		"loan_shark_interest_cron":        taskLoanSharkInterest,
		"dividend_payout":                 taskDividendPayout,
		"daily_stock_price_recalculation": taskStockPriceRecalc,
		"daily_market_settlement":         taskMarketSettlement,
		"system_notice_ttl":               taskSystemNoticeTTL,
		"deadletter_retry":                taskDeadletterRetry,
		"daily_corp_tax":                  taskDailyCorpTax,
		"daily_bank_interest_tick":        taskBankInterest,
		"port_economy_tick":               taskPortEconomy,
		"planet_market_tick":              taskPlanetMarket,
		"shield_regen_tick":               taskShieldRegen,
		"world_snapshot":                  taskWorldSnapshot,
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	r.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Tick(now)
		}
	}
}

// Tick runs everything currently due. Exported so tests can drive the clock.
func (r *Runner) Tick(now time.Time) {
	rows, err := r.St.DB.Query(`SELECT name, schedule FROM cron_tasks WHERE enabled = 1 AND next_due_at <= ?`,
		now.Unix())
	if err != nil {
		r.Log.Error().Err(err).Msg("due-task query failed")
		return
	}
	type due struct{ name, schedule string }
	var dues []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.name, &d.schedule); err != nil {
			rows.Close()
			r.Log.Error().Err(err).Msg("due-task scan failed")
			return
		}
		dues = append(dues, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		r.Log.Error().Err(err).Msg("due-task rows failed")
		return
	}

	for _, d := range dues {
		r.runOne(d.name, d.schedule, now)
	}
}

func (r *Runner) runOne(name, rawSchedule string, now time.Time) {
	sched, err := Parse(rawSchedule)
	if err != nil {
		r.Log.Warn().Str("task", name).Err(err).Msg("unparseable schedule, disabling task")
		if _, err := r.St.DB.Exec(`UPDATE cron_tasks SET enabled = 0 WHERE name = ?`, name); err != nil {
			r.Log.Error().Str("task", name).Err(err).Msg("disable failed")
		}
		return
	}

	lock := "cron:" + name
	got, err := r.St.AcquireLock(lock, r.owner, sched.LockTTL())
	if err != nil {
		r.Log.Error().Str("task", name).Err(err).Msg("lock acquire failed")
		return
	}
	if !got {
		return // another process owns this task right now
	}
	defer func() {
		if err := r.St.ReleaseLock(lock, r.owner); err != nil {
			r.Log.Error().Str("task", name).Err(err).Msg("lock release failed")
		}
	}()

	// Claim the tick by advancing next_due_at under the lock. A runner that
	// queued this task from a due list another runner has since serviced
	// matches zero rows here and walks away. Failures still advance: a
	// broken task must not spin the runner.
	res, err := r.St.DB.Exec(`
		UPDATE cron_tasks SET last_run_at = ?, next_due_at = ?
		 WHERE name = ? AND next_due_at <= ?`,
		now.Unix(), sched.Next(now).Unix(), name, now.Unix())
	if err != nil {
		r.Log.Error().Str("task", name).Err(err).Msg("advance failed")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return // already ran this tick
	}

	fn, known := r.tasks[name]
	runErr := fmt.Errorf("no handler for task %s", name)
	if known {
		started := time.Now()
		runErr = fn(r.St, now)
		if runErr == nil {
			r.Log.Debug().Str("task", name).Dur("took", time.Since(started)).Msg("task ran")
		}
	}
	if runErr != nil {
		r.Log.Error().Str("task", name).Err(runErr).Msg("task failed")
	}
}

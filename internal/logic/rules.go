package logic

import "time"

// Rule names the cache rule that decided a tick.
type Rule string

const (
	RuleNoCache         Rule = "no_cache"
	RuleOffSeasonWeekly Rule = "off_season_weekly"
	RuleNewEditionDaily Rule = "new_edition_daily"
	RulePostRun         Rule = "post_run"
	RuleInRunCooldown   Rule = "in_run_cooldown"
	RuleFetch           Rule = "fetch"
)

// Reuse reports whether the cached snapshot should be returned as-is.
func (r Rule) Reuse() bool {
	return r != RuleNoCache && r != RuleFetch
}

// Decide returns the first cache rule matching now. cached is nil when no
// snapshot has been fetched yet, which always forces a fetch.
func Decide(now time.Time, cached *RunStats, st PollState, lim Limits) Rule {
	if cached == nil {
		return RuleNoCache
	}
	local := now.In(BusZone)
	since := now.Sub(st.LastStatsCheck)

	if local.Month() != lim.RunMonth && sameISOWeek(local, st.LastStatsCheck.In(BusZone)) {
		return RuleOffSeasonWeekly
	}
	if cached.StartTime.In(BusZone).Year() < local.Year() && since < 24*time.Hour {
		return RuleNewEditionDaily
	}
	if !now.Before(cached.RunEnd().Add(lim.PostRunGrace)) && since < lim.PostRunCooldown {
		return RulePostRun
	}
	if since < lim.InRunCooldown {
		return RuleInRunCooldown
	}
	return RuleFetch
}

// OmegaDue reports whether the Omega flag should be consulted at now.
func OmegaDue(now time.Time, live bool, st PollState, lim Limits) bool {
	return live && now.Sub(st.LastOmegaCheck) >= lim.OmegaCooldown
}

func sameISOWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}

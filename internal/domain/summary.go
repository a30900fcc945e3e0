package domain

import (
	"sort"
	"time"
)

// SummaryOptions tune the recent-kills section of a summary
type SummaryOptions struct {
	RegionID   *string
	Window     time.Duration
	RecentKill int
}

// DefaultSummaryOptions returns the dashboard defaults: 7 day window, 10 kills.
func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{Window: 7 * day, RecentKill: 10}
}

// RecentKill is one row of the recently-killed list
type RecentKill struct {
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	RegionID    string     `json:"region_id"`
	State       State      `json:"state"`
	Reason      KillReason `json:"reason"`
	KilledAt    time.Time  `json:"killed_at"`
	KilledBy    string     `json:"killed_by"`
	ReviveAfter *time.Time `json:"revive_after,omitempty"`
}

// KillSwitchSummary is the operational dashboard view
type KillSwitchSummary struct {
	RegionID       *string       `json:"region_id,omitempty"`
	GeneratedAt    time.Time     `json:"generated_at"`
	Total          int           `json:"total"`
	ByState        map[State]int `json:"by_state"`
	PendingRevival int           `json:"pending_revival"`
	WindowDays     int           `json:"window_days"`
	RecentKills    []RecentKill  `json:"recent_kills"`
}

// Summarize aggregates records. It does not mutate them.
func Summarize(records []*KillSwitchRecord, opts SummaryOptions, now time.Time) KillSwitchSummary {
	s := KillSwitchSummary{
		RegionID:    opts.RegionID,
		GeneratedAt: now,
		ByState:     make(map[State]int, len(AllStates)),
		WindowDays:  int(opts.Window / day),
		RecentKills: []RecentKill{},
	}
	for _, st := range AllStates {
		s.ByState[st] = 0
	}

	since := now.Add(-opts.Window)
	for _, r := range records {
		if opts.RegionID != nil && r.RegionID != *opts.RegionID {
			continue
		}
		s.Total++
		s.ByState[r.State]++

		if r.State == StateOffline && r.ReviveAfter != nil && r.ReviveAfter.After(now) {
			s.PendingRevival++
		}
		if r.KilledAt != nil && (r.State == StateOffline || r.State == StateKilled) && !r.KilledAt.Before(since) {
			kill := RecentKill{
				EntityType:  r.EntityType,
				EntityID:    r.EntityID,
				RegionID:    r.RegionID,
				State:       r.State,
				Reason:      r.Reason,
				KilledAt:    *r.KilledAt,
				ReviveAfter: cloneTime(r.ReviveAfter),
			}
			if r.KilledBy != nil {
				kill.KilledBy = *r.KilledBy
			}
			s.RecentKills = append(s.RecentKills, kill)
		}
	}

	sort.SliceStable(s.RecentKills, func(i, j int) bool {
		return s.RecentKills[i].KilledAt.After(s.RecentKills[j].KilledAt)
	})
	if opts.RecentKill > 0 && len(s.RecentKills) > opts.RecentKill {
		s.RecentKills = s.RecentKills[:opts.RecentKill]
	}
	return s
}

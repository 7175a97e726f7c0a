package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// Off-hours are [OffHoursStart, 24) and [0, OffHoursEnd) in the analyzer's location
const (
	OffHoursStart = 22
	OffHoursEnd   = 6
)

// BaselineBehaviorAnalyzer compares each identity's failure rate and off-hours ratio in the
// report window against the same identity's baseline period.
type BaselineBehaviorAnalyzer struct {
	Location         *time.Location
	MinFailures      int
	FailureRateDelta float64
	MinOffHours      int
	OffHoursDelta    float64
}

// NewBaselineBehaviorAnalyzer returns an analyzer with the default thresholds
func NewBaselineBehaviorAnalyzer(loc *time.Location) *BaselineBehaviorAnalyzer {
	if loc == nil {
		loc = time.UTC
	}
	return &BaselineBehaviorAnalyzer{
		Location:         loc,
		MinFailures:      3,
		FailureRateDelta: 0.3,
		MinOffHours:      3,
		OffHoursDelta:    0.5,
	}
}

type behaviorStats struct {
	events   int
	failures int
	offHours int
}

func (b behaviorStats) failureRate() float64 {
	if b.events == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.events)
}

func (b behaviorStats) offHoursRatio() float64 {
	if b.events == 0 {
		return 0
	}
	return float64(b.offHours) / float64(b.events)
}

func (a *BaselineBehaviorAnalyzer) Analyze(ctx context.Context, window, baseline []*models.AuditRecord) ([]models.SuspiciousActivity, error) {
	current := a.stats(window)
	past := a.stats(baseline)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.SuspiciousActivity
	for email, cur := range current {
		base := past[email]

		var reasons []string
		if cur.failures >= a.MinFailures && cur.failureRate()-base.failureRate() >= a.FailureRateDelta {
			reasons = append(reasons, fmt.Sprintf("failure rate %.2f against baseline %.2f", cur.failureRate(), base.failureRate()))
		}
		if cur.offHours >= a.MinOffHours && cur.offHoursRatio()-base.offHoursRatio() >= a.OffHoursDelta {
			reasons = append(reasons, fmt.Sprintf("off-hours ratio %.2f against baseline %.2f", cur.offHoursRatio(), base.offHoursRatio()))
		}
		if len(reasons) == 0 {
			continue
		}

		out = append(out, models.SuspiciousActivity{
			Email:               email,
			Reasons:             reasons,
			EventCount:          cur.events,
			FailureCount:        cur.failures,
			FailureRate:         cur.failureRate(),
			BaselineFailureRate: base.failureRate(),
			OffHoursRatio:       cur.offHoursRatio(),
			BaselineOffHours:    base.offHoursRatio(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount > out[j].FailureCount
		}
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (a *BaselineBehaviorAnalyzer) stats(records []*models.AuditRecord) map[string]behaviorStats {
	out := make(map[string]behaviorStats)
	for _, r := range records {
		if r.Email == "" {
			continue
		}
		st := out[r.Email]
		st.events++
		if r.Status == models.AuditStatusFailure || r.Status == models.AuditStatusBlocked {
			st.failures++
		}
		if hour := r.CreatedAt.In(a.Location).Hour(); hour >= OffHoursStart || hour < OffHoursEnd {
			st.offHours++
		}
		out[r.Email] = st
	}
	return out
}

// HotspotAnalyzer ranks resources by the number of audit records that touch them
type HotspotAnalyzer struct {
	Limit int
}

func NewHotspotAnalyzer(limit int) *HotspotAnalyzer {
	if limit <= 0 {
		limit = DefaultHotspotLimit
	}
	return &HotspotAnalyzer{Limit: limit}
}

type hotspotKey struct {
	resourceType string
	resourceID   string
}

type hotspotTally struct {
	count   int
	users   map[string]struct{}
	actions map[string]int
}

func (a *HotspotAnalyzer) Hotspots(ctx context.Context, window []*models.AuditRecord) ([]models.ResourceHotspot, error) {
	tallies := make(map[hotspotKey]*hotspotTally)
	for _, r := range window {
		if r.ResourceType == nil || r.ResourceID == nil {
			continue
		}
		key := hotspotKey{resourceType: *r.ResourceType, resourceID: *r.ResourceID}
		t, ok := tallies[key]
		if !ok {
			t = &hotspotTally{users: make(map[string]struct{}), actions: make(map[string]int)}
			tallies[key] = t
		}
		t.count++
		if r.Email != "" {
			t.users[r.Email] = struct{}{}
		}
		if r.Action != "" {
			t.actions[r.Action]++
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.ResourceHotspot, 0, len(tallies))
	for key, t := range tallies {
		out = append(out, models.ResourceHotspot{
			ResourceType:       key.resourceType,
			ResourceID:         key.resourceID,
			AccessCount:        t.count,
			UniqueUsers:        len(t.users),
			MostFrequentAction: mostFrequent(t.actions),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	if len(out) > a.Limit {
		out = out[:a.Limit]
	}
	return out, nil
}

// mostFrequent breaks ties on the lexicographically smallest action
func mostFrequent(counts map[string]int) string {
	best, bestCount := "", 0
	for action, n := range counts {
		if n > bestCount || (n == bestCount && action < best) {
			best, bestCount = action, n
		}
	}
	return best
}

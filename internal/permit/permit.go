// Package permit implements the external "operation permit" collaborator
// of spec.md §1/§6: a gate the cycle machine consults in Waiting before
// admitting a Waiting -> Cycle1 transition. The reference
// implementation adapts the teacher's cron scheduler into a lockout
// evaluator rather than a job runner.
package permit

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Permit decides whether a cycle start is currently authorized.
type Permit interface {
	Allowed(now time.Time) bool
}

// AlwaysAllow never withholds permission; used in tests and standalone
// deployments with no external lockout schedule.
type AlwaysAllow struct{}

func (AlwaysAllow) Allowed(time.Time) bool { return true }

// Window is one named allow-window, expressed as a standard cron
// schedule plus a duration it stays open once triggered.
type Window struct {
	Name     string
	Schedule string
	Open     time.Duration
}

// CronGate evaluates a set of Windows against a robfig/cron parser: a
// cycle start is permitted whenever "now" falls within Open of the most
// recent trigger time of any configured Window.
type CronGate struct {
	mu       sync.RWMutex
	schedules []cron.Schedule
	opens     []time.Duration
	names     []string
}

// NewCronGate parses every window's schedule with the standard 5-field
// cron parser. A malformed schedule is skipped rather than rejecting the
// whole gate, since a permit misconfiguration must fail closed on the
// individual window, not wedge the entire machine out of service. When
// no window parses, the gate has no schedules and Allowed permits every
// start.
func NewCronGate(windows []Window) *CronGate {
	g := &CronGate{}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, w := range windows {
		sched, err := parser.Parse(w.Schedule)
		if err != nil {
			continue
		}
		g.schedules = append(g.schedules, sched)
		g.opens = append(g.opens, w.Open)
		g.names = append(g.names, w.Name)
	}
	return g
}

// Allowed reports whether now falls within any configured window's open
// duration following its most recent trigger on/before now.
func (g *CronGate) Allowed(now time.Time) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for i, sched := range g.schedules {
		if mostRecentTrigger(sched, now).Add(g.opens[i]).After(now) {
			return true
		}
	}
	return len(g.schedules) == 0
}

// mostRecentTrigger walks Next forward from a week before now until the
// next trigger would pass now, returning the last trigger at or before
// now (or the week-earlier probe itself if none fired). cron.Schedule
// only exposes Next, so the most recent prior fire is found by stepping
// forward from a known-earlier instant.
func mostRecentTrigger(sched cron.Schedule, now time.Time) time.Time {
	probe := now.Add(-7 * 24 * time.Hour)
	last := probe
	for {
		next := sched.Next(probe)
		if next.IsZero() || next.After(now) {
			return last
		}
		last = next
		probe = next
	}
}

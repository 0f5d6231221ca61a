package permit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlwaysAllow(t *testing.T) {
	var p Permit = AlwaysAllow{}
	assert.True(t, p.Allowed(time.Now()))
}

func TestCronGate_NoWindowsAllowsByDefault(t *testing.T) {
	g := NewCronGate(nil)
	assert.True(t, g.Allowed(time.Now()))
}

func TestCronGate_SkipsMalformedSchedule(t *testing.T) {
	g := NewCronGate([]Window{
		{Name: "bad", Schedule: "not a cron expression", Open: time.Hour},
	})
	// The malformed window is dropped entirely, leaving zero schedules,
	// which falls back to "allowed" rather than wedging the gate shut.
	assert.True(t, g.Allowed(time.Now()))
}

func TestCronGate_OpenWindowAllowsShortlyAfterTrigger(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 5, 0, 0, time.UTC)
	g := NewCronGate([]Window{
		{Name: "morning-shift", Schedule: "0 9 * * *", Open: 30 * time.Minute},
	})
	require.True(t, g.Allowed(now))
}

func TestCronGate_DeniesOutsideOpenWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	g := NewCronGate([]Window{
		{Name: "morning-shift", Schedule: "0 9 * * *", Open: 30 * time.Minute},
	})
	assert.False(t, g.Allowed(now))
}

func TestCronGate_MultipleWindowsAnyMatchAllows(t *testing.T) {
	now := time.Date(2026, 7, 31, 14, 10, 0, 0, time.UTC)
	g := NewCronGate([]Window{
		{Name: "morning-shift", Schedule: "0 9 * * *", Open: 30 * time.Minute},
		{Name: "afternoon-shift", Schedule: "0 14 * * *", Open: time.Hour},
	})
	assert.True(t, g.Allowed(now))
}

package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// lookBack bounds the search for the previous trigger.
const lookBack = 366 * 24 * time.Hour

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// Parse parses a standard five-field expression or a descriptor such as
// "@daily".
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	nextTime := schedule.Next(refTime)
	prevTime := lastTrigger(schedule, refTime)

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}

// lastTrigger finds the latest activation at or before ref. It starts from
// the closest window that contains one and walks forward, so the result is
// the last activation rather than the first in the window.
func lastTrigger(schedule cron.Schedule, ref time.Time) time.Time {
	for window := time.Hour; window <= lookBack; window *= 2 {
		start := ref.Add(-window)
		n := schedule.Next(start)
		if n.After(ref) {
			continue
		}
		prev := n
		for n = schedule.Next(prev); !n.After(ref); n = schedule.Next(n) {
			prev = n
		}
		return prev
	}
	return time.Time{}
}

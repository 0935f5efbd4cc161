package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts an optional seconds field plus descriptors such as "@every 30s".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the next fire time after refTime and, when it can be
// found within the last year, the most recent one at or before it.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
	}

	// Walk back until a window contains a fire time that is not in the future.
	step := time.Minute
	if interval := schedule.Next(info.Next).Sub(info.Next); interval > 0 && interval < step {
		step = interval
	}
	for probe := refTime.Add(-step); refTime.Sub(probe) <= 366*24*time.Hour; probe = probe.Add(-step) {
		candidate := schedule.Next(probe)
		if !candidate.After(refTime) {
			info.Last = candidate
			for next := schedule.Next(candidate); !next.After(refTime); next = schedule.Next(next) {
				info.Last = next
			}
			break
		}
		if step < time.Hour {
			step *= 2
		}
	}

	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

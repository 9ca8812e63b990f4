/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scheduler evaluates a NodeRefresh's cron schedule. It wraps
// robfig/cron's expression parser and owns only the policy the library
// doesn't express: the due/not-due verdict against lastRefreshTime.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrInvalidSchedule wraps a cron parse failure; the reconciler maps it to a
// transition to Failed with message "Invalid schedule".
type ErrInvalidSchedule struct {
	Expr string
	Err  error
}

func (e *ErrInvalidSchedule) Error() string {
	return fmt.Sprintf("invalid cron schedule %q: %v", e.Expr, e.Err)
}

func (e *ErrInvalidSchedule) Unwrap() error { return e.Err }

// Verdict is the result of evaluating a schedule against now.
type Verdict struct {
	// Due is true when the refresh cycle should start.
	Due bool
	// NextFire is always populated for status.nextRefreshTime, regardless of
	// Due.
	NextFire time.Time
}

// Evaluate computes the due/not-due verdict for expr at reference time now.
// lastRefreshTime is nil for a fleet that has never completed a cycle, in
// which case the refresh is always due. The due check compares now against
// the tick computed from lastRefreshTime, not against a tick computed from
// now itself, so a schedule's nextFire is stable across repeated not-yet-due
// reconciles.
func Evaluate(expr string, now time.Time, lastRefreshTime *time.Time) (Verdict, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return Verdict{}, &ErrInvalidSchedule{Expr: expr, Err: err}
	}

	if lastRefreshTime == nil {
		return Verdict{Due: true, NextFire: schedule.Next(now)}, nil
	}

	// When not due there is no tick in (lastRefreshTime, now], so the tick
	// after now and the tick after lastRefreshTime coincide; when due, the
	// published NextFire points at the following tick rather than the one
	// that just passed.
	return Verdict{Due: !now.Before(schedule.Next(*lastRefreshTime)), NextFire: schedule.Next(now)}, nil
}

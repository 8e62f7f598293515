// Package schedule wraps cron expression parsing for connection-test
// schedules.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// standard 5-field cron, plus @descriptors (@hourly, @daily, ...)
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a parseable schedule. Empty expressions
// are valid and mean "never".
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	_, err := parser.Parse(expr)
	return err
}

// Next computes the first fire time strictly after the given instant.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

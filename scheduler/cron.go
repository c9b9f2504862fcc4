// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Schedule is a minute-granular cron schedule. Only the minute field is
// interpreted; the remaining four fields must be "*". That covers the one
// consumer this service has.
type Schedule struct {
	minutes [60]bool
}

// ParseCron parses a five-field cron expression. The minute field accepts
// "*", "*/n" and comma-separated minute lists.
func ParseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	for _, f := range fields[1:] {
		if f != "*" {
			return nil, errors.Errorf("cron %q: only the minute field may be restricted", expr)
		}
	}

	var s Schedule
	minute := fields[0]
	switch {
	case minute == "*":
		for i := range s.minutes {
			s.minutes[i] = true
		}
	case strings.HasPrefix(minute, "*/"):
		n, err := strconv.Atoi(minute[2:])
		if err != nil || n < 1 || n > 59 {
			return nil, errors.Errorf("cron %q: bad step %q", expr, minute)
		}
		for i := 0; i < 60; i += n {
			s.minutes[i] = true
		}
	default:
		for _, part := range strings.Split(minute, ",") {
			m, err := strconv.Atoi(part)
			if err != nil || m < 0 || m > 59 {
				return nil, errors.Errorf("cron %q: bad minute %q", expr, part)
			}
			s.minutes[m] = true
		}
	}
	return &s, nil
}

// Next returns the first matching minute boundary strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 60; i++ {
		if s.minutes[next.Minute()] {
			return next
		}
		next = next.Add(time.Minute)
	}
	return next
}

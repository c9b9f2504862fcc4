// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package scheduler periodically sweeps the temp-file store. That is its
// only responsibility.
package scheduler

import (
	"time"

	"github.com/pixmint/pixmint/co"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/tempfile"
)

var logger = log.WithContext("pkg", "scheduler")

// DefaultCron sweeps every five minutes.
const DefaultCron = "*/5 * * * *"

// Scheduler runs the temp-file sweep on a cron schedule, in UTC.
type Scheduler struct {
	temps *tempfile.Store
	sched *Schedule

	goes co.Goes
	done chan struct{}
}

// New parses cronExpr ("" selects the default) and returns a stopped
// scheduler.
func New(temps *tempfile.Store, cronExpr string) (*Scheduler, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		temps: temps,
		sched: sched,
		done:  make(chan struct{}),
	}, nil
}

// Start sweeps orphans left by a previous process, then loops on the
// schedule until Stop.
func (s *Scheduler) Start() {
	s.sweep()
	s.goes.Go(s.loop)
	logger.Info("scheduler started")
}

// Stop halts the loop and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	close(s.done)
	s.goes.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	for {
		now := time.Now().UTC()
		timer := time.NewTimer(s.sched.Next(now).Sub(now))
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	expired := s.temps.SweepExpired()
	orphans := s.temps.SweepOrphans(0)
	if expired > 0 || orphans > 0 {
		logger.Info("temp files swept", "expired", expired, "orphans", orphans)
	} else {
		logger.Debug("temp file sweep found nothing")
	}
}

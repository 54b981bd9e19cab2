package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/consultahub/consultahub/internal/pkg/env"
	"github.com/consultahub/consultahub/internal/pkg/metrics/counter"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
)

// Scheduler runs the periodic subscription maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	subs *subscription.Service
}

// New creates a scheduler around the subscription service.
func New(subs *subscription.Service) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		subs: subs,
	}
}

// Start registers the jobs and launches the cron loop in the background.
// The sweep schedule is env-configurable; default is hourly on the hour.
func (s *Scheduler) Start() error {
	schedule := env.GetEnv("SUBSCRIPTION_SWEEP_SCHEDULE", "0 * * * *")
	if _, err := s.cron.AddFunc(schedule, s.runExpirySweep); err != nil {
		return err
	}

	flushSchedule := env.GetEnv("LOOKUP_COUNTER_FLUSH_SCHEDULE", "*/5 * * * *")
	if _, err := s.cron.AddFunc(flushSchedule, s.runCounterFlush); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("scheduler: expiry sweep (%s), counter flush (%s)", schedule, flushSchedule)
	return nil
}

// Stop halts the cron loop; running jobs finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runExpirySweep() {
	expired, err := s.subs.CheckAndExpire()
	if err != nil {
		log.Printf("scheduler: expiry sweep failed: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("scheduler: expiry sweep lapsed %d subscription(s)", expired)
	}
}

func (s *Scheduler) runCounterFlush() {
	if err := counter.FlushAll(); err != nil {
		log.Printf("scheduler: lookup counter flush failed: %v", err)
	}
}

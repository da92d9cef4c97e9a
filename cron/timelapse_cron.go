// Package cron holds the scheduled background jobs: the nightly timelapse,
// the hourly system health check and the archive upload retry drain.
package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"boxcam/timelapse"
)

// TimelapseCron generates yesterday's timelapse shortly after midnight.
type TimelapseCron struct {
	cron *cron.Cron
	gen  *timelapse.Generator
}

// NewTimelapseCron creates the nightly timelapse job.
func NewTimelapseCron(gen *timelapse.Generator) *TimelapseCron {
	return &TimelapseCron{
		cron: cron.New(cron.WithSeconds()),
		gen:  gen,
	}
}

// Start schedules the nightly run at 00:05 and blocks until ctx is
// cancelled. An immediate catch-up run covers restarts that slept through
// the schedule; it is a no-op when yesterday's artifact already exists.
func (t *TimelapseCron) Start(ctx context.Context) error {
	log.Println("Starting timelapse cron job (daily at 00:05)")

	_, err := t.cron.AddFunc("0 5 0 * * *", func() {
		t.runDaily()
	})
	if err != nil {
		return err
	}

	t.cron.Start()
	t.runDaily()

	<-ctx.Done()
	t.Stop()
	return nil
}

// Stop stops the timelapse cron job.
func (t *TimelapseCron) Stop() {
	log.Println("Stopping timelapse cron job")
	t.cron.Stop()
}

func (t *TimelapseCron) runDaily() {
	date := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	log.Printf("Running daily timelapse for %s...", date)

	res := t.gen.Generate(context.Background(), date, false)
	if !res.Success {
		log.Printf("Daily timelapse for %s failed: %s", date, res.Message)
		return
	}
	log.Printf("Daily timelapse for %s: %s", date, res.Message)
}

package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"boxcam/config"
	"boxcam/database"
	"boxcam/monitoring"
)

// Disk usage percentage above which the health check starts warning.
const diskWarnPercent = 90

// HealthCheckCron samples system vitals every hour and journals them.
type HealthCheckCron struct {
	cron *cron.Cron
	cfg  *config.Manager
	db   database.Database
}

// NewHealthCheckCron creates the hourly health check job.
func NewHealthCheckCron(cfg *config.Manager, db database.Database) *HealthCheckCron {
	return &HealthCheckCron{
		cron: cron.New(cron.WithSeconds()),
		cfg:  cfg,
		db:   db,
	}
}

// Start begins the health check cron job (hourly) and blocks until ctx is
// cancelled.
func (h *HealthCheckCron) Start(ctx context.Context) error {
	log.Println("Starting health check cron job (hourly)")

	_, err := h.cron.AddFunc("0 0 * * * *", func() {
		h.runHealthCheck()
	})
	if err != nil {
		return err
	}

	h.cron.Start()
	h.runHealthCheck()

	<-ctx.Done()
	h.Stop()
	return nil
}

// Stop stops the health check cron job.
func (h *HealthCheckCron) Stop() {
	log.Println("Stopping health check cron job")
	h.cron.Stop()
}

func (h *HealthCheckCron) runHealthCheck() {
	start := time.Now()
	conf := h.cfg.Current()
	health := monitoring.GetSystemHealth(h.cfg.Root(), conf.CameraIP)
	took := time.Since(start)

	if !health.StorageOK {
		log.Printf("Health check: storage at %s is not writable!", h.cfg.Root())
	}
	if health.Disk.Percent > diskWarnPercent {
		log.Printf("Health check: disk usage at %.1f%%", health.Disk.Percent)
	}
	log.Printf("Health check complete (took %v): disk %s, mem %.1f%%, cpu %s",
		took, health.Disk.Text, health.MemoryPercent, health.CPUTemp)

	if h.db != nil {
		detail := fmt.Sprintf("disk %s mem %.1f%% storage_ok %t",
			health.Disk.Text, health.MemoryPercent, health.StorageOK)
		if err := h.db.LogEvent(database.EventHealthCheck, detail); err != nil {
			log.Printf("Health check: journaling failed: %v", err)
		}
	}
}

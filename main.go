package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"boxcam/api"
	"boxcam/config"
	"boxcam/cron"
	"boxcam/database"
	"boxcam/preview"
	"boxcam/recording"
	"boxcam/storage"
	"boxcam/thumbnail"
	"boxcam/timelapse"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
)

type cronJob interface {
	Start(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// Load config
	app := config.LoadApp()

	if err := os.MkdirAll(app.ConfigDir, 0755); err != nil {
		log.Fatal("Failed to create config directory:", err)
	}
	// The capture root is an external mount; the recording supervisor waits
	// for it to appear, so nothing here may create it.

	// Everything logged below lands in the dashboard's log tail as well as
	// on stdout.
	logFile, err := os.OpenFile(app.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	// Two capture processes fighting over one camera produce two broken
	// recordings, so refuse to start a second instance.
	lock := flock.New(app.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatal("Failed to acquire instance lock:", err)
	}
	if !locked {
		log.Fatal("Another boxcam instance is already running, exiting")
	}
	defer lock.Unlock()

	// Initialize journal database
	db, err := database.NewSQLiteDB(app.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database:", err)
	}
	defer db.Close()

	// Initialize archive storage (optional)
	var archive *storage.ArchiveStorage
	if app.ArchiveEnabled {
		archive, err = storage.NewArchiveStorage(storage.ArchiveConfig{
			AccessKey: app.ArchiveAccessKey,
			SecretKey: app.ArchiveSecretKey,
			Endpoint:  app.ArchiveEndpoint,
			Region:    app.ArchiveRegion,
			Bucket:    app.ArchiveBucket,
			BaseURL:   app.ArchiveBaseURL,
		})
		if err != nil {
			log.Printf("Warning: archive storage disabled: %v", err)
			archive = nil
		}
	}

	cfg := config.NewManager(app)

	supervisor := recording.NewSupervisor(cfg, db)
	generator := timelapse.NewGenerator(cfg, db, archive)
	watcher := thumbnail.NewWatcher(cfg, db)
	camera := preview.NewCamera(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Start recording supervisor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervisor.Run(ctx); err != nil {
			// Storage never appeared; exit so the process manager can
			// restart us against a hopefully remounted disk.
			log.Fatalf("[recording] %v", err)
		}
	}()

	// Start thumbnail watcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()

	// Start live preview decoder
	wg.Add(1)
	go func() {
		defer wg.Done()
		camera.Run(ctx)
	}()

	// Start scheduled jobs
	jobs := []cronJob{
		cron.NewTimelapseCron(generator),
		cron.NewHealthCheckCron(cfg, db),
		cron.NewUploadRetryCron(db, archive),
	}
	for _, job := range jobs {
		wg.Add(1)
		go func(job cronJob) {
			defer wg.Done()
			if err := job.Start(ctx); err != nil {
				log.Printf("Error starting cron job: %v", err)
			}
		}(job)
	}

	// Start web server
	server := api.NewServer(app, cfg, db, supervisor, generator, camera)
	go server.Start()

	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping services...")
	wg.Wait()
	log.Println("[main] Shutdown complete")
}

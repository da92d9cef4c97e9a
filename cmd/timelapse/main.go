// Command timelapse renders the daily timelapse for one day from the command
// line, outside the main boxcam process. Useful for backfilling days the
// scheduler missed or re-rendering with -force.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"boxcam/config"
	"boxcam/database"
	"boxcam/storage"
	"boxcam/timelapse"
)

func main() {
	date := flag.String("date", "", "Day to render (YYYY-MM-DD), defaults to yesterday")
	force := flag.Bool("force", false, "Re-render even if the timelapse already exists")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: .env file not found at %s, using environment variables", *envFile)
	}

	app := config.LoadApp()
	cfg := config.NewManager(app)

	target := *date
	if target == "" {
		target = time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	}

	// Journal the run alongside the main process if the database is
	// reachable; a render without a journal entry is still a render.
	var db database.Database
	if sqlite, err := database.NewSQLiteDB(app.DatabasePath); err == nil {
		db = sqlite
		defer sqlite.Close()
	} else {
		log.Printf("Warning: journal unavailable: %v", err)
	}

	var archive *storage.ArchiveStorage
	if app.ArchiveEnabled {
		var err error
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

	gen := timelapse.NewGenerator(cfg, db, archive)

	log.Printf("Rendering timelapse for %s (force=%t)", target, *force)
	res := gen.Generate(context.Background(), target, *force)
	log.Println(res.Message)
	if !res.Success {
		os.Exit(1)
	}
}

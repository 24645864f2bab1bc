package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"melisma/internal/catalog"
	"melisma/internal/config"
	"melisma/internal/covers"
	"melisma/internal/library"
	"melisma/internal/lyrics"
	"melisma/internal/metasync"
	"melisma/internal/organizer"
	"melisma/internal/scanner"
	"melisma/internal/tags"
)

const usage = `Usage: melisma <command> [flags]

Commands:
  scan          Scan the library root and ingest audio files
  scan --clear  Drop all entities and rebuild the catalog from disk
  organize      Move library files into the {artist}/{album} layout
  sync-artists  Enrich artists with provider ids and images
  sync-albums   Enrich albums with release info and covers
  watch         Watch the library root and ingest changes as they happen
  status        Show scan and sync progress
`

func main() {
	// Optional; deployments may set everything in the real environment.
	godotenv.Load(".env")

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, err := config.LoadConfig("./config.toml")
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	applyLogging(logger, cfg.Logging)

	if _, err := os.Stat(cfg.Library.RootPath); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.RootPath).Fatal("Music directory does not exist. Please create it and add your music files.")
	}

	cat, err := catalog.Open(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing catalog")
	}
	defer cat.Close()

	extractor := tags.NewExtractor(cfg.Library.SupportedFormats)
	lyricResolver := lyrics.NewResolver(cfg.Library.RootPath, cfg.Library.LyricsMirrorDir)
	coverResolver := covers.NewResolver(cfg.Library.RootPath, cat)
	pipeline := scanner.NewIngestPipeline(cat, extractor, lyricResolver, coverResolver)
	guard := scanner.NewGuard()
	scan := scanner.New(cat, pipeline, guard, cfg.Scan, cfg.Library.RootPath, cfg.Library.SupportedFormats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "scan":
		clear := len(os.Args) > 2 && os.Args[2] == "--clear"
		summary, err := scan.Scan(ctx, clear)
		if err != nil {
			logger.WithError(err).Fatal("Scan failed")
		}
		logger.WithFields(logrus.Fields{
			"total":     summary.Total,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"orphans":   summary.OrphansRemoved,
		}).Info("Scan complete")

	case "organize":
		org := organizer.New(cat, extractor, guard, cfg.Library.RootPath, cfg.Assets.AvatarDir, cfg.Assets.CoverDir)
		report, err := org.Organize(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Organize failed")
		}
		logger.WithFields(logrus.Fields{
			"moved":      report.Moved,
			"in_place":   report.AlreadyInPlace,
			"collisions": len(report.Collisions),
		}).Info("Organize complete")

	case "sync-artists":
		onlyMissing := len(os.Args) > 2 && os.Args[2] == "--missing"
		client := metasync.NewClient(cfg.Providers)
		syncer := metasync.NewSyncer(cat, client, cfg.Providers, cfg.Assets.AvatarDir, cfg.Assets.CoverDir)
		if err := syncer.SyncArtists(ctx, onlyMissing); err != nil {
			logger.WithError(err).Fatal("Artist sync failed")
		}

	case "sync-albums":
		client := metasync.NewClient(cfg.Providers)
		syncer := metasync.NewSyncer(cat, client, cfg.Providers, cfg.Assets.AvatarDir, cfg.Assets.CoverDir)
		if err := syncer.SyncAlbums(ctx); err != nil {
			logger.WithError(err).Fatal("Album sync failed")
		}

	case "watch":
		watcher := library.NewWatcher(cat, pipeline, extractor, guard, cfg.Library.RootPath)
		if err := watcher.Start(); err != nil {
			logger.WithError(err).Fatal("Error starting file watcher")
		}
		<-ctx.Done()
		logger.Info("Received shutdown signal")
		watcher.Stop()

	case "status":
		scanStatus, err := cat.ScanStatus()
		if err != nil {
			logger.WithError(err).Fatal("Error reading scan status")
		}
		syncStatus, err := cat.ArtistSyncStatus()
		if err != nil {
			logger.WithError(err).Fatal("Error reading sync status")
		}
		fmt.Printf("scan: running=%v %d/%d\n", scanStatus.IsRunning, scanStatus.Current, scanStatus.Total)
		fmt.Printf("artist sync: running=%v %d/%d", syncStatus.IsRunning, syncStatus.Current, syncStatus.Total)
		if syncStatus.LastError != "" {
			fmt.Printf(" last_error=%q", syncStatus.LastError)
		}
		fmt.Println()

	default:
		fmt.Print(usage)
		os.Exit(2)
	}
}

// applyLogging configures level and format from the config file.
func applyLogging(logger *logrus.Logger, cfg config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

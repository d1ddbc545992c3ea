// Command gridwatch replays a directory of camera frames through the grid
// disturbance detector and reports what it finds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/gridwatch/internal/api"
	"github.com/banshee-data/gridwatch/internal/config"
	"github.com/banshee-data/gridwatch/internal/fsutil"
	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/health"
	"github.com/banshee-data/gridwatch/internal/grid/pipeline"
	"github.com/banshee-data/gridwatch/internal/grid/storage/sqlite"
	"github.com/banshee-data/gridwatch/internal/monitoring"
	"github.com/banshee-data/gridwatch/internal/timeutil"
	"github.com/banshee-data/gridwatch/internal/version"
)

var (
	patternPath  = flag.String("pattern", "pattern.json", "Grid pattern JSON file")
	framesGlob   = flag.String("frames", "frames/*.png", "Glob of PNG frames, replayed in lexical order")
	configPath   = flag.String("config", "", "Detection tuning JSON (defaults when empty)")
	dbPath       = flag.String("db", "", "SQLite evidence log path (disabled when empty)")
	healthListen = flag.String("health-listen", "", "gRPC health listen address (disabled when empty)")
	httpListen   = flag.String("http-listen", "", "HTTP API listen address (disabled when empty)")
	linger       = flag.Bool("linger", false, "Keep the HTTP API up after the replay until interrupted")
	fps          = flag.Float64("fps", 10, "Frame rate used to timestamp frames")
	realtime     = flag.Bool("realtime", false, "Sleep between frames to replay at -fps")
	verbose      = flag.Bool("verbose", false, "Enable diag and trace logging")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	configureLogging(*verbose, os.Stderr)

	log.Print(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, fsutil.OSFileSystem{}, timeutil.RealClock{}); err != nil {
		log.Fatalf("gridwatch: %v", err)
	}
}

func configureLogging(verbose bool, w io.Writer) {
	writers := monitoring.LogWriters{Ops: w}
	if verbose {
		writers.Diag = w
		writers.Trace = w
	}
	monitoring.SetLogWriters(writers)
}

func loadSettings(path string) (grid.DetectionSettings, error) {
	if path == "" {
		return grid.DefaultDetectionSettings(), nil
	}
	tuning, err := config.LoadDetectionTuning(path)
	if err != nil {
		return grid.DetectionSettings{}, err
	}
	return grid.SettingsFromTuning(tuning), nil
}

func run(ctx context.Context, fs fsutil.FileSystem, clock timeutil.Clock) error {
	pattern, err := loadPattern(fs, *patternPath)
	if err != nil {
		return err
	}
	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	detector, err := pipeline.NewDetector(settings, pipeline.WithClock(clock))
	if err != nil {
		return err
	}
	defer detector.Dispose()

	var emitted int
	detector.AddListener(func(d grid.GridDisturbance) {
		emitted++
		log.Printf("frame %d: %s at (%.1f, %.1f) intensity=%.2f confidence=%.2f dots=%v",
			d.FrameNumber, d.Type, d.Position.X, d.Position.Y, d.Intensity, d.Confidence, d.AffectedDots)
	})

	var evidence api.EvidenceStore
	if *dbPath != "" {
		db, err := sqlite.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store := sqlite.NewDisturbanceStore(db, clock)
		detector.AddListener(store.OnDisturbance)
		evidence = store
		log.Printf("recording disturbances to %s", *dbPath)
	}

	if *httpListen != "" {
		srv := &http.Server{
			Addr:              *httpListen,
			Handler:           api.LoggingMiddleware(api.NewServer(detector, evidence).ServeMux()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Opsf("http: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				monitoring.Opsf("http shutdown: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", *httpListen)
	}

	var reporter *health.Reporter
	if *healthListen != "" {
		cfg := health.DefaultConfig()
		cfg.ListenAddr = *healthListen
		reporter = health.NewReporter(cfg)
		if err := reporter.Start(); err != nil {
			return err
		}
		defer reporter.Stop()
		log.Printf("health service listening on %s", reporter.Addr())
	}

	source, err := newFrameSource(fs, *framesGlob, clock.Now(), *fps)
	if err != nil {
		return err
	}
	log.Printf("replaying %d frames against %d-dot pattern", source.Len(), pattern.Len())

	for {
		if ctx.Err() != nil {
			log.Printf("interrupted after %d frames", detector.FrameCount())
			break
		}
		frame, path, ok, err := source.Next()
		if !ok {
			break
		}
		if err != nil {
			monitoring.Diagf("%v", err)
		}
		processed := detector.ProcessFrame(frame, pattern)
		if reporter != nil {
			reporter.Observe(processed)
		}
		monitoring.Tracef("%s: dots=%d disturbances=%d took=%v",
			path, len(processed.DetectedDots), len(processed.Disturbances), processed.ProcessingTime)
		if *realtime {
			clock.Sleep(source.interval)
		}
	}

	log.Printf("done: %d frames, calibrated=%v, %d disturbances emitted",
		detector.FrameCount(), detector.IsCalibrated(), emitted)

	if *linger && *httpListen != "" {
		log.Printf("replay finished; serving until interrupted")
		<-ctx.Done()
	}
	return nil
}

// Command sentineld is the entrypoint for the multi-camera recording
// daemon: it loads configuration, wires the catalogue/detector/janitor/
// supervisor together, registers the configured streams, and blocks
// until SIGINT/SIGTERM trigger a graceful shutdown. Grounded on
// marcopennelli-orbo/cmd/orbo/main.go's flag/logger/wiring/signal
// boilerplate, with the goa HTTP service construction removed (out of
// scope) and replaced by direct supervisor.Supervisor construction.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"sentineld/internal/catalogue"
	"sentineld/internal/config"
	"sentineld/internal/detector"
	"sentineld/internal/janitor"
	"sentineld/internal/supervisor"
)

const detectorDialTimeout = 5 * time.Second

func main() {
	var configPath = flag.String("config", "", "path to a .env file (optional, defaults to ./.env if present)")
	flag.Parse()

	logger := log.New(os.Stderr, "[sentineld] ", log.Ltime)

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		logger.Fatalf("failed to create recordings directory %s: %v", cfg.RecordingsDir, err)
	}

	cat, err := catalogue.Open(cfg.CataloguePath)
	if err != nil {
		logger.Fatalf("failed to open catalogue at %s: %v", cfg.CataloguePath, err)
	}
	logger.Printf("catalogue opened at %s", cfg.CataloguePath)

	det := loadDetector(logger, cfg)

	jan := janitor.New(janitor.Config{
		Catalogue:       cat,
		RecordingsDir:   cfg.RecordingsDir,
		MaxStorageBytes: cfg.MaxStorageBytes,
		Interval:        cfg.JanitorInterval,
		OrphanAge:       cfg.JanitorOrphanAge,
	})

	sup := supervisor.New(supervisor.Config{
		Catalogue: cat,
		Detector:  det,
		Janitor:   jan,
		RecordDir: cfg.RecordingsDir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)

	streamParams := cfg.StreamParams()
	for _, s := range cfg.Streams() {
		id, err := sup.RegisterStream(ctx, s.URL, s.Name, streamParams)
		if err != nil {
			logger.Printf("failed to register stream %s: %v", s.Name, err)
			continue
		}
		logger.Printf("registered stream %s as %s", s.Name, id)
	}

	logger.Printf("sentineld running with %d stream(s)", len(sup.StreamIDs()))
	sup.HandleSignals()
	logger.Println("exited")
}

// loadDetector dials the configured gRPC detector sidecar, falling
// back to a no-op detector when none is configured (spec §4.3's
// Detector is optional infrastructure; the rest of the pipeline must
// run without one).
func loadDetector(logger *log.Logger, cfg *config.Config) detector.Detector {
	if cfg.DetectorEndpoint == "" {
		logger.Println("no DETECTOR_ENDPOINT configured, running without object detection")
		return detector.NullDetector{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), detectorDialTimeout)
	defer cancel()

	d, err := detector.NewGRPCDetector(ctx, cfg.DetectorEndpoint, cfg.DetectorConfig())
	if err != nil {
		logger.Printf("failed to connect to detector at %s, running without object detection: %v", cfg.DetectorEndpoint, err)
		return detector.NullDetector{}
	}
	logger.Printf("detector connected at %s", cfg.DetectorEndpoint)
	return d
}

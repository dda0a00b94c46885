package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"

	"ewradio/internal/assets"
	"ewradio/internal/blob"
	"ewradio/internal/config"
	"ewradio/internal/engine"
	"ewradio/internal/httpapi"
	"ewradio/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// maxUploadBytes caps a single uploaded asset.
const maxUploadBytes = 64 << 20

func main() {
	configPath := flag.String("config", "", "Config file path (defaults to the user config dir)")
	addr := flag.String("addr", "", "Echo listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	assetDir := flag.String("assets", "", "Asset directory (overrides config)")
	backend := flag.String("backend", "", "Audio backend: portaudio, oto or headless (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			slog.Warn("config file unusable, using defaults", "path", *configPath, "err", err)
		}
	}
	override(&cfg.ListenAddr, *addr)
	override(&cfg.DBPath, *dbPath)
	override(&cfg.AssetDir, *assetDir)
	override(&cfg.Backend, *backend)

	slog.Info("starting ewradio", "version", Version, "addr", cfg.ListenAddr, "db", cfg.DBPath, "backend", cfg.Backend)

	sqliteStore, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	blobRoot := filepath.Join(filepath.Dir(cfg.DBPath), "blobs")
	blobStore, err := blob.NewStore(blobRoot, sqliteStore, maxUploadBytes)
	if err != nil {
		slog.Error("initialize blob store", "err", err)
		os.Exit(1)
	}

	radio := engine.New(engine.Options{
		Config:      cfg.Engine,
		SampleRate:  beep.SampleRate(cfg.SampleRate),
		Volume:      cfg.Volume,
		BackendName: cfg.Backend,
		Loader:      assetLoader(cfg, blobStore),
		Scorer:      cfg.Engine.Scorer(cfg.Scorer),
	})
	if err := radio.Init(); err != nil {
		// The control surface stays up so the UI can report the failure.
		if !errors.Is(err, engine.ErrBackendUnavailable) {
			slog.Error("init audio engine", "err", err)
			os.Exit(1)
		}
	}
	defer func() {
		if closeErr := radio.Close(); closeErr != nil {
			slog.Error("close audio engine", "err", closeErr)
		}
	}()

	server := httpapi.New(radio, sqliteStore, blobStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	slog.Info("listening", "addr", cfg.ListenAddr)
	if err := server.Run(ctx, cfg.ListenAddr); err != nil {
		slog.Error("server error", "err", err)
		radio.StopAll()
		os.Exit(1)
	}
	radio.StopAll()
	slog.Info("server stopped")
}

// assetLoader routes "blob:" paths to uploaded assets, and everything else to
// the asset base URL when one is configured, or the asset directory.
func assetLoader(cfg config.Config, blobs *blob.Store) assets.Loader {
	var fallback assets.Loader = assets.DirLoader{Root: cfg.AssetDir}
	if cfg.AssetBaseURL != "" {
		fallback = assets.HTTPLoader{BaseURL: cfg.AssetBaseURL}
	}
	return assets.MultiLoader{
		Routes:  map[string]assets.Loader{assets.BlobPrefix: assets.BlobLoader{Blobs: blobs}},
		Default: fallback,
	}
}

func override(dst *string, flagValue string) {
	if v := strings.TrimSpace(flagValue); v != "" {
		*dst = v
	}
}

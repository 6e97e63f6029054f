package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/codec"
	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/database"
	"github.com/exstreamtv/exstreamtv/internal/database/migrations"
	"github.com/exstreamtv/exstreamtv/internal/epg"
	"github.com/exstreamtv/exstreamtv/internal/ffmpeg"
	internalhttp "github.com/exstreamtv/exstreamtv/internal/http"
	"github.com/exstreamtv/exstreamtv/internal/http/handlers"
	"github.com/exstreamtv/exstreamtv/internal/observability"
	"github.com/exstreamtv/exstreamtv/internal/playout"
	"github.com/exstreamtv/exstreamtv/internal/procpool"
	"github.com/exstreamtv/exstreamtv/internal/repository"
	"github.com/exstreamtv/exstreamtv/internal/resolver"
	"github.com/exstreamtv/exstreamtv/internal/scheduler"
	"github.com/exstreamtv/exstreamtv/internal/selfheal"
	"github.com/exstreamtv/exstreamtv/internal/service"
	"github.com/exstreamtv/exstreamtv/internal/service/logs"
	"github.com/exstreamtv/exstreamtv/internal/storage"
	"github.com/exstreamtv/exstreamtv/internal/version"
	"github.com/exstreamtv/exstreamtv/pkg/duration"
	"github.com/exstreamtv/exstreamtv/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exstreamtv server",
	Long: `Start the exstreamtv broadcast engine and HTTP server.

The server provides:
- HDHomeRun tuner emulation for Plex, Jellyfin, and Emby
- M3U playlist and XMLTV guide for IPTV players
- Shared MPEG-TS channel broadcasts
- REST API for channels, configuration, logs, and backups
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags. Like the global flags these are NOT bound to viper;
	// runServe applies them only when explicitly set so the priority
	// stays CLI flag > env var > config > default.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8411, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "", "Base directory for logos, temp files, and backups")
}

// applyServeFlags folds explicitly set CLI flags into the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.BaseDir, _ = cmd.Flags().GetString("data-dir")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	// Wrap the logger in the in-process ring so the logs API and the
	// self-heal diagnostics see everything the process emits.
	logsService := logs.New(cfg.Logging.RingSize)
	base := observability.NewLogger(cfg.Logging, cfg.Server.APIKey, cfg.Plex.Token)
	logger := slog.New(logsService.WrapHandler(base.Handler()))
	observability.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and schema.
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories.
	channelRepo := repository.NewChannelRepository(db.DB)
	itemRepo := repository.NewMediaItemRepository(db.DB)
	libraryRepo := repository.NewLibraryRepository(db.DB)
	playlistRepo := repository.NewPlaylistRepository(db.DB)
	collectionRepo := repository.NewCollectionRepository(db.DB)
	fillerRepo := repository.NewFillerRepository(db.DB)
	playoutRepo := repository.NewPlayoutRepository(db.DB)

	enabledChannels, err := channelRepo.CountEnabled(ctx)
	if err != nil {
		return fmt.Errorf("counting channels: %w", err)
	}
	db.ResizePool(int(enabledChannels))
	db.StartStatsMonitor(ctx)

	metrics := observability.NewMetrics()

	// Storage surfaces.
	roots, err := storage.NewMediaRoots(cfg.Storage.MediaRoots)
	if err != nil {
		return fmt.Errorf("initializing media roots: %w", err)
	}

	logoCache, err := storage.NewLogoCache(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing logo cache: %w", err)
	}

	factory := httpclient.NewClientFactory(nil).WithLogger(logger)

	logoService := service.NewLogoService(logoCache, factory).WithLogger(logger)
	logoResult, err := logoService.LoadIndex(ctx, service.LogoPruneOptions{
		Prune:     cfg.Storage.LogoRetention > 0,
		Threshold: cfg.Storage.LogoRetention,
	})
	if err != nil {
		return fmt.Errorf("loading logo index: %w", err)
	}
	if logoResult.PrunedCount > 0 {
		logger.Info("pruned stale logos on startup",
			slog.Int("pruned_count", logoResult.PrunedCount),
			slog.Int64("pruned_bytes", logoResult.PrunedSize),
			slog.String("retention", duration.Format(cfg.Storage.LogoRetention)))
	}

	// Resolution and playout.
	resolverSvc := resolver.New(ctx, cfg.Resolver, libraryRepo, itemRepo, roots, factory, metrics, logger)
	defer resolverSvc.Close()
	if err := resolverSvc.Warm(ctx); err != nil {
		logger.Warn("library cache warm failed; resolving lazily", slog.String("error", err.Error()))
	}

	engine := playout.NewEngine(playout.Repositories{
		Playouts:    playoutRepo,
		Channels:    channelRepo,
		Fillers:     fillerRepo,
		Collections: collectionRepo,
		Playlists:   playlistRepo,
		Items:       itemRepo,
	}, cfg.Playout, metrics, logger)

	pool := procpool.New(cfg.ProcessPool, int(enabledChannels), metrics, logger)

	// FFmpeg detection. A missing binary degrades health instead of
	// refusing to start; the admin API stays reachable for diagnosis.
	ffmpegPath, ffprobePath, hw, hwDevice := detectFFmpeg(ctx, cfg, logger)
	prober := ffmpeg.NewProber(ffprobePath)
	slate := broadcast.NewSlateGenerator(ffmpegPath, cfg.Storage.TempPath(), pool, logger)

	// Self-heal layer.
	controller := selfheal.NewController(cfg.AIAgent, pool, metrics, logger)

	manager := broadcast.NewManager(broadcast.Deps{
		Config:     cfg,
		Channels:   channelRepo,
		Items:      itemRepo,
		Engine:     engine,
		Resolver:   resolverSvc,
		Pool:       pool,
		Prober:     prober,
		Slate:      slate,
		Guard:      controller,
		FFmpegPath: ffmpegPath,
		HW:         hw,
		HWDevice:   hwDevice,
		Metrics:    metrics,
		Logger:     logger,
	})
	defer manager.Close()

	remediator := selfheal.NewRemediator(cfg.AIAgent, controller, manager, itemRepo, resolverSvc, logger)

	// Guide and services.
	generator := epg.NewGenerator(channelRepo, engine, cfg.Playout, cfg.Server.BaseURL(), metrics, logger)

	backupService := service.NewBackupService(db.DB, cfg.Backup, cfg.Storage.BaseDir).WithLogger(logger)

	configStore, err := config.NewStore(configStorePath(cfg), cfg, logger)
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}
	defer configStore.Close()

	// Config edits invalidate the library cache so credential changes
	// take effect; structural changes still need a restart.
	changes, unsubscribe := configStore.Subscribe()
	defer unsubscribe()
	go func() {
		for range changes {
			resolverSvc.InvalidateLibraries()
			logger.Info("configuration changed; library cache invalidated (some changes require a restart)")
		}
	}()

	sched := scheduler.New(generator, backupService, remediator, cfg.Backup.Schedule).WithLogger(logger)
	if cfg.Plex.Enabled && cfg.Plex.ReloadGuideAfterEPG {
		notifier := epg.NewPlexNotifier(cfg.Plex, factory.CreateClientForService("plex"), logger)
		sched = sched.WithGuideNotifier(notifier)
	}

	// HTTP surface.
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	hdhrHandler := handlers.NewHDHomeRunHandler(cfg.Server, cfg.StreamThrottle, channelRepo, manager).WithLogger(logger)
	hdhrHandler.RegisterRoutes(server.Router())

	iptvHandler := handlers.NewIPTVHandler(cfg.Server, cfg.StreamThrottle,
		channelRepo, itemRepo, manager, generator, logoService, resolverSvc, controller).WithLogger(logger)
	iptvHandler.RegisterRoutes(server.Router())

	importService := service.NewPlaylistImportService(libraryRepo, itemRepo, factory, logger)

	handlers.NewChannelHandler(channelRepo, manager).WithLogger(logger).Register(server.API())
	handlers.NewLibraryHandler(libraryRepo, importService, resolverSvc).WithLogger(logger).Register(server.API())
	handlers.NewHealthHandler(db, pool, controller, ffmpegPath).WithLogger(logger).Register(server.API())
	handlers.NewLogsHandler(logsService).Register(server.API())
	handlers.NewConfigHandler(configStore).RegisterRoutes(server.Router())

	backupHandler := handlers.NewBackupHandler(backupService)
	backupHandler.Register(server.API())
	backupHandler.RegisterRaw(server.Router())

	server.Router().Method(http.MethodGet, "/metrics", metrics.Handler())

	// Lifecycle. The scheduler stops first so no job races shutdown;
	// the manager closes after the HTTP server drains its sessions.
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	go func() {
		if err := manager.Prewarm(ctx); err != nil {
			logger.Warn("channel prewarm failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("starting exstreamtv server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("tuners", cfg.Server.TunerCount),
		slog.Int64("channels", enabledChannels),
		slog.String("version", version.Version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})

	return g.Wait()
}

// detectFFmpeg locates the binaries and picks the hardware backend. All
// failures are soft; channels refuse to start later but the API serves.
func detectFFmpeg(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ffmpegPath, ffprobePath string, hw codec.HWAccel, device string) {
	hw = codec.HWAccelNone

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	info, err := detector.Detect(ctx)
	if err != nil {
		logger.Warn("ffmpeg not found; channels cannot start until it is installed",
			slog.String("error", err.Error()))
		return "", "", hw, ""
	}
	ffmpegPath = info.FFmpegPath
	ffprobePath = info.FFprobePath

	probe := ffmpeg.NewHWAccelProbe(ffmpegPath)
	statuses := probe.Run(ctx)

	configured, ok := codec.ParseHWAccel(cfg.FFmpeg.HWAccel)
	if !ok {
		configured = codec.HWAccelAuto
	}
	hw = probe.Pick(configured)
	for _, st := range statuses {
		if st.Backend == hw && st.Available {
			device = st.Device
		}
	}

	logger.Info("ffmpeg detected",
		slog.String("path", ffmpegPath),
		slog.String("version", info.Version),
		slog.String("hw_accel", hw.String()),
		slog.String("hw_device", device))
	return ffmpegPath, ffprobePath, hw, device
}

// configStorePath picks the document the config API persists to: the
// explicit --config file, then the file viper discovered, then a default
// under the data directory.
func configStorePath(cfg *config.Config) string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(cfg.Storage.BaseDir, "config.yaml")
}

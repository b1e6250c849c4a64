package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/soundtrace/backend/internal/api/websocket"
	"github.com/soundtrace/backend/internal/modules/detection"
	"github.com/soundtrace/backend/internal/modules/fingerprint"
	"github.com/soundtrace/backend/internal/modules/library"
	"github.com/soundtrace/backend/internal/modules/matching"
	"github.com/soundtrace/backend/internal/modules/media"
	"github.com/soundtrace/backend/internal/modules/pipeline"
	"github.com/soundtrace/backend/internal/modules/projects"
	"github.com/soundtrace/backend/internal/modules/separation"
	"github.com/soundtrace/backend/internal/shared/config"
	"github.com/soundtrace/backend/internal/shared/database"
	"github.com/soundtrace/backend/internal/shared/logging"
	"github.com/soundtrace/backend/internal/shared/metrics"
	"github.com/soundtrace/backend/internal/shared/storage"
	"github.com/soundtrace/backend/internal/shared/tasks"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting SoundTrace Worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	// Initialize database
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize work area
	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Progress updates flow through the WebSocket hub; workers keep
	// their own hub so progress still reaches clients connected to
	// this process in single-binary deployments.
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	m := metrics.New()
	registry := tasks.NewRegistry(logger)
	runner := tasks.NewRunner(registry, logger)
	queue := pipeline.NewQueueClient(cfg.RedisURL, logger)
	defer queue.Close()

	// Domain modules
	mediaProcessor := media.NewProcessor(media.ProcessorConfig{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	}, runner, logger)
	extractor := fingerprint.NewExtractor(cfg.FpcalcPath, logger)
	matcher := matching.NewMatcher(mediaProcessor, extractor, logger)
	separator := separation.NewSeparator(separation.Config{
		SeparatorPath: cfg.SeparatorPath,
		ModelFilename: cfg.Separation.ModelFilename,
		ModelDir:      cfg.Separation.ModelDir,
		OutputFormat:  cfg.Separation.OutputFormat,
	}, runner, mediaProcessor, logger)
	detector := detection.NewDetector(detection.Config{
		DetectorPath:        cfg.DetectorPath,
		ModelPath:           cfg.Detection.ModelPath,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		FrameInterval:       cfg.Detection.FrameInterval,
		MinSegmentDuration:  cfg.Detection.MinSegmentDuration,
		MaxGapDuration:      cfg.Detection.MaxGapDuration,
	}, runner, logger)

	projectsStore := projects.NewStore(db, logger)
	libraryStore := library.NewStore(db, logger)
	pipelineModule := pipeline.NewModule(db, redisClient, queue, registry, wsHub, m, logger)

	// Create pipeline handler
	handler := pipeline.NewHandler(pipeline.HandlerConfig{
		Module:         pipelineModule,
		Registry:       registry,
		Storage:        storageService,
		Media:          mediaProcessor,
		Matcher:        matcher,
		Library:        libraryStore,
		Projects:       projectsStore,
		Separator:      separator,
		Detector:       detector,
		SeparationGate: tasks.NewGate("separation", logger),
		DetectionGate:  tasks.NewGate("detection", logger),
		Matching:       cfg.Matching,
		UseGPU:         cfg.UseGPU,
		Metrics:        m,
		Logger:         logger,
	})

	// Relay cancel requests from the API process
	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	cancelListener := pipeline.NewCancelListener(redisClient, registry, logger)
	go cancelListener.Run(listenerCtx)

	// Configure Asynq server
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisURL},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(pipeline.TypeMatchScan, handler.HandleMatchScan)
	mux.HandleFunc(pipeline.TypeSeparationRun, handler.HandleSeparationRun)
	mux.HandleFunc(pipeline.TypeDetectionRun, handler.HandleDetectionRun)
	mux.HandleFunc(pipeline.TypePreviewRender, handler.HandlePreviewRender)
	mux.HandleFunc(pipeline.TypeExportCut, handler.HandleExportCut)
	mux.HandleFunc(pipeline.TypeCleanupWork, handler.HandleCleanupWork)

	// Start worker
	go func() {
		logger.Info("Worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		if err := srv.Run(mux); err != nil {
			logger.Fatal("Worker failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	srv.Shutdown()
	logger.Info("Worker stopped")
}

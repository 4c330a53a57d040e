// Command walvaultd runs the WAL service: it accepts appends, replicates
// sealed segments to the configured object store and git manifest channel,
// and prunes local segments once both channels confirm them.
package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	minioclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/INLOpen/walvault/blobstore"
	minioblob "github.com/INLOpen/walvault/blobstore/minio"
	"github.com/INLOpen/walvault/compressors"
	"github.com/INLOpen/walvault/config"
	"github.com/INLOpen/walvault/core"
	"github.com/INLOpen/walvault/gitsync"
	"github.com/INLOpen/walvault/hooks"
	"github.com/INLOpen/walvault/pruner"
	"github.com/INLOpen/walvault/server"
	"github.com/INLOpen/walvault/storesync"
	"github.com/INLOpen/walvault/wal"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file // The file handle is the closer.
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It returns the provider and a cleanup function to be deferred.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		// Return a no-op provider and an empty cleanup function.
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	// Create an OTLP exporter (gRPC or HTTP)
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Define the service resource
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("walvault")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

// buildBlobStore constructs the object-store backend selected in the config.
func buildBlobStore(cfg config.ObjectStoreConfig, logger *slog.Logger) (blobstore.BlobStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		logger.Warn("Using in-memory object store; remote copies will not survive a restart.")
		return blobstore.NewMemoryStore(), nil
	case "local":
		logger.Info("Using local directory object store", "root", cfg.LocalRoot)
		return blobstore.NewLocalStore(cfg.LocalRoot)
	case "minio":
		client, err := minioclient.New(cfg.Minio.Endpoint, &minioclient.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		logger.Info("Using MinIO object store", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
		return minioblob.NewStore(client, cfg.Minio.Bucket, cfg.Minio.Prefix), nil
	default:
		return nil, fmt.Errorf("invalid object store backend: %q", cfg.Backend)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for pre-config errors
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.WAL.Dir == "" {
		logger.Error("wal.dir must be specified in the configuration file.")
		os.Exit(1)
	}
	logger.Info("Using WAL directory", "path", cfg.WAL.Dir)

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}
	defer tracerCleanup()

	var metricSrv *server.MetricsServer
	if cfg.Debug.Enabled {
		metricSrv = server.NewMetricsServer(&cfg.Debug, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start metrics server", "error", err)
			}
		}()
	}

	var collector *server.SystemCollector
	if cfg.SelfMonitoring.Enabled {
		interval := config.ParseDuration(cfg.SelfMonitoring.Interval, 15*time.Second, logger)
		collector = server.NewSystemCollector(cfg.WAL.Dir, interval, logger)
		collector.Start()
	}

	hookManager := hooks.NewHookManager(logger)

	walOpts := wal.Options{
		Dir:                 cfg.WAL.Dir,
		SyncMode:            core.WALSyncMode(cfg.WAL.SyncMode),
		MaxSegmentSize:      cfg.WAL.MaxSegmentSizeBytes,
		MaxSegmentAge:       config.ParseDuration(cfg.WAL.MaxSegmentAge, 0, logger),
		PreallocateSegments: cfg.WAL.PreallocateSegments,
		BytesWritten:        expvar.NewInt("walvault_wal_bytes_written"),
		EntriesWritten:      expvar.NewInt("walvault_wal_entries_written"),
		Logger:              logger,
		HookManager:         hookManager,
	}
	w, recovered, err := wal.Open(walOpts)
	if err != nil {
		logger.Error("Failed to open WAL", "error", err)
		os.Exit(1)
	}
	logger.Info("WAL opened", "recovered_entries", len(recovered), "active_segment", w.ActiveSegmentIndex())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	var objectSync *storesync.Syncer
	if cfg.ObjectStore.Enabled {
		store, err := buildBlobStore(cfg.ObjectStore, logger)
		if err != nil {
			logger.Error("Failed to build object store", "error", err)
			os.Exit(1)
		}
		compressor, err := compressors.NewCompressorFromString(cfg.ObjectStore.Compression)
		if err != nil {
			logger.Error("Invalid object store compression", "error", err)
			os.Exit(1)
		}
		logger.Info("Using compression for remote segments", "type", compressor.Type().String())

		objectSync, err = storesync.NewSyncer(storesync.Options{
			WAL:               w,
			Store:             store,
			Compressor:        compressor,
			CheckpointDir:     cfg.WAL.Dir,
			Interval:          config.ParseDuration(cfg.ObjectStore.SyncInterval, 30*time.Second, logger),
			UploadConcurrency: cfg.ObjectStore.UploadConcurrency,
			Logger:            logger,
			HookManager:       hookManager,
		})
		if err != nil {
			logger.Error("Failed to create object-store syncer", "error", err)
			os.Exit(1)
		}
		hookManager.Register(hooks.EventPostWALRotate, objectSync.RotateListener())

		wg.Add(1)
		go func() {
			defer wg.Done()
			objectSync.Run(ctx)
		}()
	}

	gitSync, err := gitsync.NewSyncer(gitsync.Options{
		RepoPath:    cfg.Git.RepoPath,
		Push:        cfg.Git.Push,
		RemoteName:  cfg.Git.RemoteName,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Interval:    config.ParseDuration(cfg.Git.SyncInterval, time.Minute, logger),
		WAL:         w,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create git syncer", "error", err)
		os.Exit(1)
	}
	if gitSync.IsConfigured() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gitSync.Run(ctx)
		}()
	}

	if cfg.Pruner.Enabled {
		if objectSync == nil {
			logger.Error("Pruner requires the object store to be enabled.")
			os.Exit(1)
		}
		var tracer trace.Tracer
		if cfg.Tracing.Enabled {
			tracer = tp.Tracer("walvault/pruner")
		}
		prn, err := pruner.NewPruner(pruner.Options{
			WAL:         w,
			ObjectSync:  objectSync,
			GitSync:     gitSync,
			Interval:    config.ParseDuration(cfg.Pruner.Interval, time.Minute, logger),
			Logger:      logger,
			Tracer:      tracer,
			MarkedTotal: expvar.NewInt("walvault_pruner_segments_marked_total"),
			PrunedTotal: expvar.NewInt("walvault_pruner_segments_pruned_total"),
		})
		if err != nil {
			logger.Error("Failed to create pruner", "error", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			prn.Run(ctx)
		}()
	}

	logger.Info("walvaultd started.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received signal, shutting down...", "signal", sig.String())

	cancel()
	wg.Wait()
	hookManager.Stop()

	if err := w.Close(); err != nil {
		logger.Error("Error closing WAL", "error", err)
	}
	if collector != nil {
		collector.Stop()
	}
	if metricSrv != nil {
		metricSrv.Stop()
	}
	logger.Info("walvaultd stopped.")
}

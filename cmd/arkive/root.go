package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/arkive/internal/audit"
	"github.com/kenneth/arkive/internal/config"
	"github.com/kenneth/arkive/internal/kms"
	"github.com/kenneth/arkive/internal/metrics"
	"github.com/kenneth/arkive/internal/pipeline"
	"github.com/kenneth/arkive/internal/s3"
	"github.com/kenneth/arkive/internal/tracing"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "arkive",
	Short: "Encrypt files client-side and upload them to object storage",
	Long: `arkive derives a per-file data key from a password, encrypts the file
with an authenticated cipher, wraps the data key in a KMS and uploads the
result to S3-compatible storage with server-side SSE-KMS bound to the
same master key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version + " (" + commit + ")",
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $CONFIG_PATH or config.yaml)")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(decryptCmd)
}

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Recorder

	shutdownTracing func(context.Context) error
	metricsServer   *http.Server
}

// bootstrap loads configuration and wires the ambient stack: logger,
// metrics endpoint, tracing and audit recorder.
func bootstrap(ctx context.Context) (*runtime, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	rt := &runtime{cfg: cfg, logger: logger}

	shutdown, err := tracing.Init(ctx, &cfg.Tracing)
	if err != nil {
		return nil, err
	}
	rt.shutdownTracing = shutdown

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.NewMetrics()
		router := mux.NewRouter()
		router.Handle("/metrics", rt.metrics.Handler()).Methods("GET")
		rt.metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: router}
		go func() {
			logger.WithField("addr", cfg.Metrics.ListenAddr).Info("Starting metrics endpoint")
			if err := rt.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("Metrics endpoint failed")
			}
		}()
	}

	if cfg.Audit.Enabled {
		rt.audit = audit.NewRecorder(cfg.Audit.MaxEvents, nil)
	}

	return rt, nil
}

// coordinator builds the pipeline coordinator with real S3 and KMS clients.
func (rt *runtime) coordinator(ctx context.Context) (*pipeline.Coordinator, kms.Wrapper, error) {
	storage, err := s3.NewClient(ctx, &rt.cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	wrapper, err := kms.NewAWSWrapper(ctx, &rt.cfg.KMS)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.NewCoordinator(rt.cfg, storage, wrapper, rt.logger, rt.metrics, rt.audit), wrapper, nil
}

// close flushes tracing and stops the metrics endpoint.
func (rt *runtime) close(ctx context.Context) {
	if rt.metricsServer != nil {
		_ = rt.metricsServer.Shutdown(ctx)
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			rt.logger.WithError(err).Warn("Failed to flush traces")
		}
	}
}

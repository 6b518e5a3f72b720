package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/config"
	"github.com/edirooss/coop-relay/internal/http/handler"
	mw "github.com/edirooss/coop-relay/internal/http/middleware"
	"github.com/edirooss/coop-relay/internal/identity"
	"github.com/edirooss/coop-relay/internal/infrastructure/hostinfo"
	"github.com/edirooss/coop-relay/internal/infrastructure/processmgr"
	"github.com/edirooss/coop-relay/internal/service"
)

const defaultConfigPath = "coop-relay.yaml"

var configPath = flag.String("config", defaultConfigPath, "path to the YAML config file")

func init() {
	// Handle version display
	handleVersion()
}

func main() {
	// Load config
	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Create Zap logger
	log := buildLogger(cfg.IsDev())
	defer log.Sync()
	log = log.Named("main")
	log.Info("starting coop relay",
		zap.String("version", config.Version),
		zap.String("store", cfg.Store.Driver))

	// Identity store
	store, err := buildStore(log, cfg.Store)
	if err != nil {
		log.Fatal("identity store creation failed", zap.Error(err))
	}
	defer store.Close()

	// Backend client
	api, err := backend.NewClient(log, cfg.Backend.URL, backend.Options{Timeout: cfg.Backend.Timeout})
	if err != nil {
		log.Fatal("backend client creation failed", zap.Error(err))
	}
	log.Info("backend client ready", zap.String("base_url", api.BaseURL()), zap.Duration("timeout", cfg.Backend.Timeout))

	// Executors
	logmngr := processmgr.NewLogManager()
	runner := processmgr.NewRunner(log, logmngr)
	capture := service.NewFFmpegCapture(log, runner, cfg.Capture.FFmpegBin, cfg.Capture.RTSPTransport, cfg.Capture.Timeout)
	upload := service.NewProcessUploader(log, runner, cfg.Uploader.Bin, service.UploaderEnv{
		SupabaseURL:        cfg.Supabase.URL,
		SupabaseServiceKey: cfg.Supabase.ServiceKey,
		BackendURL:         cfg.Backend.URL,
		Bucket:             cfg.Supabase.Bucket,
	}, cfg.Uploader.Timeout)
	if err := upload.Ready(); err != nil {
		log.Warn("uploader is not ready; captures will fail until fixed", zap.Error(err))
	}

	// Relay agent
	agent := service.NewAgent(log, store, api, capture, upload, service.Options{
		PairingPollInterval: cfg.Schedule.PairingPoll,
		ConfigPollInterval:  cfg.Schedule.ConfigPoll,
		HealthInterval:      cfg.Schedule.Health,
		SnapshotPath:        cfg.Capture.SnapshotPath,
		Logs:                logmngr,
		Host:                hostinfo.NewSampler(filepath.Dir(cfg.Capture.SnapshotPath)),
	})
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = agent.Start(startCtx)
	cancelStart()
	if err != nil {
		log.Fatal("agent start failed", zap.Error(err))
	}
	defer agent.Close()

	// Create Gin router
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(log.Named("gin")).Writer() // Configure Gin's logger to use Zap
	r := gin.New()

	// Apply Gin middlewares
	{
		r.Use(gin.Recovery()) // Recovery first (outermost)
		r.Use(mw.RequestID()) // early in the chain so it's available everywhere

		if cfg.IsDev() { // Enable CORS for a local dashboard
			r.Use(cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://localhost:4173", "http://localhost:3000", "http://127.0.0.1:3000"},
				AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
				ExposeHeaders: []string{"X-Request-ID", "X-Total-Count"},
				MaxAge:        12 * time.Hour,
			}))
		} else {
			r.SetTrustedProxies([]string{"127.0.0.1"})
			r.Use(secure.New(secure.Config{
				FrameDeny:          true,
				ContentTypeNosniff: true,
				BrowserXssFilter:   true,
				IsDevelopment:      false,
			}))
		}

		r.Use(mw.AccessLog(log.Named("http")))
		r.Use(mw.LimitConcurrentRequests(cfg.HTTP.MaxConcurrent))
		r.Use(mw.MaxBodyBytes(1 << 20)) // 1MB; every body here is a small JSON object
	}

	// Register route handlers
	{
		r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
		handler.NewRelayHandler(log, agent).Register(r)
	}

	httpsrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,  // kills header-drip Slowloris
		ReadTimeout:       10 * time.Second, // full request read (incl. body)
		WriteTimeout:      60 * time.Second, // config updates wait on two backend round trips
		IdleTimeout:       60 * time.Second, // keep-alive cap
		MaxHeaderBytes:    1 << 20,          // 1MB cap
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("running HTTP server", zap.String("addr", httpsrv.Addr))
		if err := httpsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpsrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("server closed")
}

// handleVersion prints build metadata and exits when -v/--version is provided.
func handleVersion() {
	v := flag.Bool("v", false, "print version and exit")
	flag.BoolVar(v, "version", false, "print version and exit")
	flag.Parse()

	if *v {
		fmt.Printf("coop-relay %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		os.Exit(0)
	}
}

// resolveConfigPath lets the default config file be absent.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

// helpers

func buildLogger(isDev bool) *zap.Logger {
	if !isDev {
		logConfig := zap.NewProductionConfig()
		logConfig.EncoderConfig.TimeKey = "ts"
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logConfig.DisableStacktrace = true
		return zap.Must(logConfig.Build())
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}

func buildStore(log *zap.Logger, cfg config.StoreConfig) (identity.Store, error) {
	switch cfg.Driver {
	case "redis":
		s, err := identity.NewRedisStore(log, identity.NewRedisClient(log, cfg.RedisAddr, cfg.RedisDB), cfg.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return s, nil
	default:
		s, err := identity.NewFileStore(log, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return s, nil
	}
}

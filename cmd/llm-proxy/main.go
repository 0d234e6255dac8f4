package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/user/llm-proxy-go/internal/api"
	"github.com/user/llm-proxy-go/internal/api/middleware"
	"github.com/user/llm-proxy-go/internal/config"
	"github.com/user/llm-proxy-go/internal/database"
	"github.com/user/llm-proxy-go/internal/repository"
	"github.com/user/llm-proxy-go/internal/service"
	"github.com/user/llm-proxy-go/internal/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(version.Info())
			os.Exit(0)
		case "--init":
			if err := runInit(); err != nil {
				log.Fatalf("init: %v", err)
			}
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printUsage() {
	fmt.Printf("LLM Proxy Go - %s\n\n", version.Short())
	fmt.Println("Usage: llm-proxy [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --init         Generate .env.example configuration template")
	fmt.Println("  --version, -v  Show version information")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("Without options, starts the LLM proxy server.")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Use environment variables or .env file (see .env.example)")
	fmt.Println("  Run 'llm-proxy --init' to generate configuration template")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logDir := getLogDir()
	logger, err := newLogger(cfg.Proxy.LogLevel, logDir, cfg.LogRotation)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting llm-proxy", zap.String("version", version.Short()))

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	// Read-only pool: dashboard/token-stats/ranking queries run against
	// this connection so they never block proxy dispatch writes.
	readDB, err := database.NewReadOnly(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init read-only database: %w", err)
	}
	defer readDB.Close()

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	profileRepo := repository.NewProfileRepositoryImpl(db)
	cfgRepo := repository.NewAppConfigRepositoryImpl(db)
	logRepo := repository.NewRequestLogRepositoryImpl(db, readDB, logger)

	if err := service.ResetStatusOnStartup(context.Background(), cfgRepo); err != nil {
		logger.Warn("failed to reset proxy status", zap.Error(err))
	}

	if err := importLegacyConfig(context.Background(), profileRepo, cfgRepo, logger); err != nil {
		logger.Warn("failed to import legacy config", zap.Error(err))
	}

	appConfig, err := cfgRepo.LoadAppConfig(context.Background())
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}
	if appConfig.ProxyAPIKey == "" {
		token, err := service.GenerateProxyAPIKey()
		if err != nil {
			return fmt.Errorf("generate proxy api key: %w", err)
		}
		appConfig.ProxyAPIKey = token
		if err := cfgRepo.SaveAppConfig(context.Background(), appConfig); err != nil {
			return fmt.Errorf("save app config: %w", err)
		}
		logger.Info("generated initial proxy API key")
	}

	proxyConfig, err := cfgRepo.LoadProxyConfig(context.Background())
	if err != nil {
		return fmt.Errorf("load proxy config: %w", err)
	}
	if proxyConfig.Port == 0 {
		proxyConfig.Host = cfg.Proxy.Host
		proxyConfig.Port = cfg.Proxy.Port
		if err := cfgRepo.SaveProxyConfig(context.Background(), proxyConfig); err != nil {
			return fmt.Errorf("save proxy config: %w", err)
		}
	}

	profileStore := service.NewProfileStore(profileRepo, logger)
	if err := profileStore.Load(context.Background()); err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	authGate := service.NewAuthGate(cfgRepo, appConfig.ProxyAPIKey, appConfig.EnableAuth)

	tokenCounter, err := service.NewTokenCounter()
	if err != nil {
		return fmt.Errorf("init token counter: %w", err)
	}
	proxyService := service.NewProxyService(logRepo, tokenCounter, logger)

	lifecycle := service.NewLifecycle(logger).WithStatusRepo(cfgRepo)

	server := api.NewServer(api.ServerDeps{
		ProxyService: proxyService,
		ProfileStore: profileStore,
		AuthGate:     authGate,
		Lifecycle:    lifecycle,
		LogRepo:      logRepo,
		CfgRepo:      cfgRepo,
		RateLimit: &middleware.RateLimitConfig{
			Enabled:       cfg.RateLimit.Enabled,
			MaxRequests:   cfg.RateLimit.MaxRequests,
			WindowSeconds: cfg.RateLimit.WindowSeconds,
		},
		DB:     db,
		Logger: logger,
	})
	lifecycle.SetHandler(server)

	go lifecycle.Run()
	if err := lifecycle.Restart(*proxyConfig); err != nil {
		return fmt.Errorf("start proxy listener: %w", err)
	}
	logger.Info("server started", zap.String("host", proxyConfig.Host), zap.Int("port", proxyConfig.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	if err := lifecycle.Shutdown(); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level string, logDir string, rotation config.LogRotationConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug", "DEBUG":
		zapLevel = zap.DebugLevel
	case "warn", "WARN":
		zapLevel = zap.WarnLevel
	case "error", "ERROR":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "llm-proxy.log"),
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "ts"
	fileEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderCfg),
		zapcore.AddSync(lj),
		zapLevel,
	)

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderCfg)

	stdoutCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l < zapcore.WarnLevel
		}),
	)
	stderrCore := zapcore.NewCore(
		consoleEncoder,
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapLevel && l >= zapcore.WarnLevel
		}),
	)

	core := zapcore.NewTee(fileCore, stdoutCore, stderrCore)

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	), nil
}

func getLogDir() string {
	if dir := os.Getenv("LLM_PROXY_LOGS_DIR"); dir != "" {
		return dir
	}
	return "logs"
}

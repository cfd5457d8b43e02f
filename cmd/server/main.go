// Package main is the entry point of the application
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/duel-server/pkg/config"
	"github.com/tecu23/duel-server/pkg/engine"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/repository"
	"github.com/tecu23/duel-server/pkg/server"
)

// App encapsulates global dependencies
type application struct {
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Hub       *server.Hub
	Manager   *manager.Manager
	Engines   *engine.Pool       // nil when no engine is configured
	NATS      *events.NATSBridge // nil when NATS is not configured
	Server    *http.Server
	Upgrader  websocket.Upgrader

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides config)")
	configDir := flag.String("config", "", "extra directory to search for config.yaml")
	flag.Parse()

	// Initialize logger
	logger := initLogger(*debug)

	var searchPaths []string
	if *configDir != "" {
		searchPaths = append(searchPaths, *configDir)
	}

	cfg, err := config.Load(searchPaths...)
	if err != nil {
		logger.Fatal("loading config error", zap.Error(err))
	}

	if cfg.Debug && !*debug {
		logger = initLogger(true)
	}
	defer logger.Sync()

	if *port != "" {
		cfg.Server.Port = *port
	}

	// Initialize event publisher
	publisher := events.NewPublisher()

	var bridge *events.NATSBridge
	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig(cfg.NATS.URL)
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		bridge, err = events.NewNATSBridge(natsCfg, publisher, logger)
		if err != nil {
			logger.Warn("NATS bridge disabled", zap.Error(err))
		}
	}

	enginePool, err := newEnginePool(cfg.Engine, logger)
	if err != nil {
		logger.Fatal("initialize engine error", zap.Error(err))
	}

	// Initialize repository
	repo := repository.NewInMemoryRepository(logger)

	hub := server.NewHub(enginePool, publisher, logger)

	// Initialize session manager
	mgr := manager.NewManager(repo, hub, publisher, manager.Options{
		DefaultTimeBudget: cfg.Match.DefaultTimeBudget,
		MaxTimeBudget:     cfg.Match.MaxTimeBudget,
		TickPeriod:        cfg.Match.TickPeriod,
		EnforceRules:      cfg.Match.EnforceRules,
	}, logger)
	hub.SetManager(mgr)

	app := &application{
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Hub:       hub,
		Manager:   mgr,
		Engines:   enginePool,
		NATS:      bridge,
		Upgrader:  newUpgrader(cfg.Server.AllowedOrigins),
		StartTime: time.Now(),
	}

	go app.Hub.Run()

	err = app.serve()
	if err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// newEnginePool builds the engine pool, or returns nil when no engine path is set
func newEnginePool(cfg config.EngineConfig, logger *zap.Logger) (*engine.Pool, error) {
	if cfg.Path == "" {
		logger.Info("no engine configured, engine requests are disabled")
		return nil, nil
	}

	table := engine.DefaultStrengthTable()
	if cfg.StrengthTable != "" {
		loaded, err := engine.LoadStrengthTable(cfg.StrengthTable)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	return engine.NewEnginePool(engine.ProcessStarter(cfg.Path, logger), cfg.PoolSize, engine.Options{
		InitTimeout: cfg.InitTimeout,
		Table:       table,
		Logger:      logger,
	}), nil
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Sessions first so both seats still get their SESSION_ENDED
	if app.Manager != nil {
		app.Manager.Shutdown()
	}

	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if app.Engines != nil {
		app.Engines.Shutdown()
	}

	if app.NATS != nil {
		if err := app.NATS.Close(); err != nil {
			app.Logger.Warn("NATS drain error", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}

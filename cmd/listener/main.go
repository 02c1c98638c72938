// File: cmd/listener/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/smartdevs17/pool-listener/internal/config"
	"github.com/smartdevs17/pool-listener/internal/connection"
	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/monitor"
	"github.com/smartdevs17/pool-listener/internal/notification"
	"github.com/smartdevs17/pool-listener/internal/processor"
	"github.com/smartdevs17/pool-listener/internal/retry"
	"github.com/smartdevs17/pool-listener/internal/server"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the pool listener components together
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	metricsManager *metrics.Manager
	connection     *connection.ConnectionManager
	ledger         connection.Ledger
	storage        storage.Storage
	notification   *notification.NotificationManager
	processor      *processor.TransitionProcessor
	monitor        *monitor.PoolMonitor
	server         *server.HTTPServer
	startTime      time.Time
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents builds every component bottom-up
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")
	app.metricsManager = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.initializeConnection()
	app.initializeNotification()
	app.initializeProcessor()

	if err := app.initializeMonitor(); err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

func (app *Application) initializeStorage() error {
	app.logger.WithField("type", app.config.Storage.Type).Info("Initializing storage layer")

	store, err := storage.Open(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metricsManager)
	return nil
}

// initializeConnection builds the ledger client. The node is dialled lazily
// on the first request, so startup does not depend on node availability.
func (app *Application) initializeConnection() {
	app.logger.WithField("node_url", app.config.Chain.NodeURL).Info("Initializing ledger client")

	app.connection = connection.NewConnectionManager(&app.config.Chain)
	app.connection.SetMetricsManager(app.metricsManager)
	// one pass over the endpoints per request; retries come from the ledger policy
	app.connection.SetDialRounds(1)

	client := connection.NewPoolFactoryClient(
		connection.ManagerBackend(app.connection),
		common.HexToAddress(app.config.Target.FactoryAddress),
		connection.WithRateLimit(app.config.Chain.RateLimit, app.config.Chain.RateBurst),
		connection.WithMetrics(app.metricsManager),
	)
	app.ledger = connection.WithRetry(client, retry.FromConfig(app.config.Retry))
}

func (app *Application) initializeNotification() {
	if !app.config.Notifications.Enabled {
		app.logger.Info("Notifications disabled")
		return
	}

	app.notification = notification.NewFromConfig(&app.config.Notifications, app.config.Target, retry.FromConfig(app.config.Retry))
	app.logger.WithField("channels", app.notification.Channels()).Info("Notification manager initialized")
}

func (app *Application) initializeProcessor() {
	cfg := &processor.ProcessorConfig{
		NotifyTimeout: app.config.Notifications.Timeout,
		StorePolicy:   retry.FromConfig(app.config.Retry),
	}

	var dispatcher notification.Dispatcher
	if app.notification != nil {
		cfg.Channels = app.notification.Channels()
		dispatcher = notification.NewDispatcherWithMetrics(app.notification, app.metricsManager)
	}

	app.processor = processor.NewTransitionProcessor(app.storage, dispatcher, app.metricsManager, cfg)
}

func (app *Application) initializeMonitor() error {
	monitorCfg, err := monitor.NewMonitorConfig(app.config)
	if err != nil {
		return err
	}

	app.monitor = monitor.NewPoolMonitor(app.ledger, app.storage, app.processor, app.metricsManager, monitorCfg)
	return nil
}

func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		return nil
	}

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: true,
		EnableHealth:  true,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, app.monitor, app.processor, app.notification, app.metricsManager)
	return err
}

// Start starts the HTTP server and the monitor
func (app *Application) Start() error {
	app.startTime = time.Now()
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"target":      app.config.Target.TokenAddress,
		"symbol":      app.config.Target.TokenSymbol,
	}).Info("Starting pool listener")

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return err
		}
	}

	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start pool monitor: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"node_url":       app.config.Chain.NodeURL,
		"factory":        app.config.Target.FactoryAddress,
	}).Info("Pool listener started successfully")
	return nil
}

// Stop stops every component in reverse order of construction
func (app *Application) Stop() error {
	app.logger.Info("Stopping pool listener")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.monitor != nil {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop pool monitor")
		}
	}

	app.cancel()

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	app.logger.Info("Pool listener stopped")
	return nil
}

// GetStats returns application statistics
func (app *Application) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"version":   AppVersion,
		"uptime":    time.Since(app.startTime).String(),
		"timestamp": time.Now(),
		"monitor":   app.monitor.GetStats(),
		"processor": app.processor.GetStats(),
	}

	if app.connection != nil {
		stats["connection"] = app.connection.Stats()
	}
	if storageStats, err := app.storage.GetStats(app.ctx); err == nil {
		stats["storage"] = storageStats
	}
	if app.notification != nil {
		stats["notification"] = app.notification.GetStats()
	}
	return stats
}

// runListener loads configuration and runs until interrupted
func runListener(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	sig := <-signalChan
	app.logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	return app.Stop()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// configFile returns the --config flag value
func configFile() string {
	return viper.GetString("config")
}

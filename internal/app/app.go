package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"booklending/internal/api"
	"booklending/internal/bot"
	"booklending/internal/catalog"
	"booklending/internal/config"
	"booklending/internal/ledger"
	"booklending/internal/loans"
	"booklending/internal/remote"
	"booklending/internal/storage"
	"booklending/internal/storage/ch"
	"booklending/internal/storage/pg"
	"booklending/internal/storage/stubs"
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      storage.Storage
	service *loans.Service
	bot     *bot.Bot
	server  *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	return NewWithConfig(context.Background(), cfg, logger)
}

// NewWithConfig builds the application from an already loaded configuration
func NewWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	logger.Info("Starting Book Lending service...")

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	if err := app.initService(ctx); err != nil {
		app.db.Close()
		return nil, err
	}

	if cfg.BotEnabled() {
		if err := app.initBot(); err != nil {
			app.db.Close()
			return nil, err
		}
	}

	app.initHTTPServer()

	return app, nil
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// initDatabase initializes the database connection
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	switch a.config.StorageDriver {
	case config.DriverClickHouse:
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.String("user", a.config.ClickHouseUser),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		clickhouseDB, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB
	case config.DriverPostgres:
		a.logger.Info("Connecting to PostgreSQL")
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.PostgresDSN)
		if err != nil {
			return err
		}
		db = postgresDB
	default:
		a.logger.Info("Using in-memory database")
		db = stubs.NewMockDB()
	}

	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully", zap.String("driver", a.config.StorageDriver))

	a.db = db
	return nil
}

// initService restores the lending state and imports upstream books
func (a *App) initService(ctx context.Context) error {
	c := catalog.New(a.db, catalog.WithLogger(a.logger.Named("catalog")))
	l := ledger.New(a.db, ledger.WithLoanPeriod(a.config.LoanPeriod))
	a.service = loans.New(c, l, a.logger.Named("loans"))

	if err := a.service.Load(ctx, a.db); err != nil {
		return fmt.Errorf("failed to load lending state: %w", err)
	}

	if a.config.CatalogSourceURL != "" {
		client := remote.New(remote.NewHTTPClient(), a.config.CatalogSourceURL, a.config.CatalogSourceToken,
			a.logger.Named("remote"))
		// The service still starts when the book service is unreachable
		if _, err := client.Sync(ctx, a.service); err != nil {
			a.logger.Warn("Failed to import upstream books", zap.Error(err))
		}
	}
	return nil
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.service, a.config.AllowedUserIDs, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created successfully", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	a.service.SetNotifier(telegramBot)
	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for the API, health checks and webhook
func (a *App) initHTTPServer() {
	opts := api.Options{
		APIToken:       a.config.APIToken,
		RateLimitRPS:   a.config.RateLimitRPS,
		RateLimitBurst: a.config.RateLimitBurst,
	}
	if a.bot != nil && a.config.WebhookMode {
		opts.Webhook = a.bot.WebhookHandler(a.config.WebhookSecret)
	}

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      api.New(a.service, a.logger.Named("api"), opts).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  time.Minute,
		ErrorLog:     zap.NewStdLog(a.logger),
	}
}

// Handler returns the HTTP handler tree
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if a.bot != nil {
		if a.config.WebhookMode {
			if err := a.bot.StartWebhook(a.config.WebhookURL, a.config.WebhookSecret); err != nil {
				return errors.Join(fmt.Errorf("failed to setup webhook: %w", err), a.Shutdown())
			}
			a.logger.Info("Webhook configured", zap.String("path", api.WebhookPath))
		} else {
			go func() {
				if err := a.bot.Start(); err != nil {
					a.logger.Error("Bot stopped", zap.Error(err))
				}
			}()
		}
	}

	select {
	case <-sigChan:
		a.logger.Info("Shutting down...")
	case err := <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(err))
		return errors.Join(err, a.Shutdown())
	}
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	if a.bot != nil && !a.config.WebhookMode {
		a.bot.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}

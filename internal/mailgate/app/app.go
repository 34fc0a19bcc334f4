// Package app wires configuration, storage, the gate and the HTTP
// surface into a runnable application.
package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaypost/mailgate/internal/mailgate/gate"
	httpapi "github.com/relaypost/mailgate/internal/mailgate/http"
	"github.com/relaypost/mailgate/internal/mailgate/mail"
	"github.com/relaypost/mailgate/internal/mailgate/mail/memory"
	"github.com/relaypost/mailgate/internal/mailgate/mail/ses"
	"github.com/relaypost/mailgate/internal/mailgate/ratelimit"
	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/internal/mailgate/store/drivers/sqlite"
	"github.com/relaypost/mailgate/pkg/cryptox"
	"github.com/relaypost/mailgate/pkg/jwtx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application holds the assembled service.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	limiter   *ratelimit.Limiter
	transport mail.Transport

	gate *gate.Gate

	apiKeyService       *service.APIKeyService
	emailService        *service.EmailService
	tokenService        *service.TokenService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "mailgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initTransport(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("mailgate starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"mail_provider", app.cfg.MailProvider,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the server, the housekeeping worker and the database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down mailgate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("mailgate stopped")
	return nil
}

func (app *Application) initDatabase() error {
	// Journal mode and busy timeout are set via PRAGMA in NewStore.
	db, err := sqlite.NewStore("file:" + app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initTransport() error {
	switch app.cfg.MailProvider {
	case "", "memory":
		app.transport = memory.New()
		app.logger.Info("using in-memory mail transport")
	case "ses":
		transport, err := ses.New(context.Background(), ses.Config{
			Region:          app.cfg.SESRegion,
			AccessKeyID:     app.cfg.SESAccessKey,
			SecretAccessKey: app.cfg.SESSecretKey,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize SES transport: %w", err)
		}
		app.transport = transport
		app.logger.Info("using SES mail transport", "region", app.cfg.SESRegion)
	default:
		return fmt.Errorf("unknown mail provider %q", app.cfg.MailProvider)
	}
	return nil
}

func (app *Application) initServices() {
	signingSecret := []byte(app.cfg.TokenSigningSecret)
	if len(signingSecret) == 0 {
		// Ephemeral secret: minted tokens stop verifying across
		// restarts, raw credentials keep working.
		signingSecret = make([]byte, 32)
		if _, err := rand.Read(signingSecret); err != nil {
			panic(err)
		}
		app.logger.Warn("no token signing secret configured, using an ephemeral one")
	}

	app.tokenService = &service.TokenService{
		Signer: jwtx.NewSigner(signingSecret, app.cfg.TokenIssuer, app.cfg.TokenTTL),
	}

	app.limiter = ratelimit.New()
	verifier := gate.NewVerifier(app.db.APIKeys(), gate.WithCacheTTL(app.cfg.GateCacheTTL))
	audit := gate.NewRecorder(app.db.AuditLogs())
	app.apiKeyService = &service.APIKeyService{
		Store:       app.db,
		Invalidator: verifier,
	}
	app.gate = gate.New(verifier, app.tokenService, app.limiter, audit, app.db.APIKeys(), app.apiKeyService)

	app.emailService = &service.EmailService{
		Transport:     app.transport,
		DefaultSender: app.cfg.DefaultSender,
	}
	app.bootstrapService = &service.BootstrapService{
		Store: app.db,
		Keys:  app.apiKeyService,
		Token: app.cfg.BootstrapToken,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.limiter,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AuditRetention,
		app.cfg.InactiveRetention,
	)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.gate, app.db, BuildVersion, app.logger)
	app.router.APIKeyService = app.apiKeyService
	app.router.EmailService = app.emailService
	app.router.TokenService = app.tokenService
	app.router.BootstrapService = app.bootstrapService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}

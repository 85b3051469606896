package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/config"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/ipfilter"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/tasks"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/verification"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App holds the application state
type App struct {
	Config       *config.Config
	DB           *pgxpool.Pool
	Router       http.Handler
	Metrics      *metrics.Metrics
	Verification *verification.Service

	server *http.Server
}

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	SetupLogger(cfg.LogLevel, cfg.IsDev())

	log.Info().Msg("Initializing TaskShift application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	if cfg.MigrateOnBoot {
		log.Info().Msg("Running migrations")
		if err := db.MigrateUp(cfg.DatabaseURLForMigrate()); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		log.Info().Msg("Migrations on start disabled; run `taskshift migrate` manually")
	}

	log.Info().Msg("Connecting to database...")
	pool, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (int32, int32, int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	})

	var blocklist ipfilter.Blocklist = ipfilter.Nop{}
	if cfg.IPFilterFile != "" {
		static, err := ipfilter.Load(cfg.IPFilterFile)
		if err != nil {
			pool.Close()
			return nil, err
		}
		blocklist = static
		log.Info().Str("file", cfg.IPFilterFile).Msg("IP filter loaded")
	}

	trusted, err := ipfilter.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("TS_TRUSTED_PROXIES: %w", err)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.EmailAPIKey != "" {
		notifier = notify.NewClient(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailTimeoutMS, m)
	} else {
		log.Warn().Msg("TS_EMAIL_API_KEY not set; emails are logged, not delivered")
	}

	router, verificationSvc := Wire(pool, cfg, notifier, blocklist, trusted, m)

	app := &App{
		Config:       cfg,
		DB:           pool,
		Router:       router,
		Metrics:      m,
		Verification: verificationSvc,
	}

	log.Info().Msg("Application initialized successfully")
	return app, nil
}

// Wire builds the Postgres-backed services and the router on top of an open
// pool. The verification service is returned for the background sweep.
func Wire(pool *pgxpool.Pool, cfg *config.Config, notifier notify.Notifier, blocklist ipfilter.Blocklist, trusted ipfilter.Proxies, m *metrics.Metrics) (*chi.Mux, *verification.Service) {
	tx := db.NewTransactor(pool)
	auditor := audit.NewWriter(pool)
	tokens := auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	userStore := users.NewPostgresStore(pool)

	verificationSvc := verification.NewService(
		verification.NewPostgresStore(pool),
		userStore,
		tx,
		notifier,
		time.Duration(cfg.VerificationTTLHours)*time.Hour,
	)
	orgsSvc := orgs.NewService(orgs.Deps{
		Store:       orgs.NewPostgresStore(pool),
		Users:       userStore,
		Tx:          tx,
		Auditor:     auditor,
		Notifier:    notifier,
		Tokens:      tokens,
		FrontendURL: cfg.FrontendURL,
	})

	router := NewRouter(Services{
		Auth:         auth.NewService(userStore, tx, orgsSvc, verificationSvc, tokens, m),
		Users:        userStore,
		Verification: verificationSvc,
		Orgs:         orgsSvc,
		Tasks:        tasks.NewService(tasks.NewPostgresStore(pool), orgsSvc, auditor),
		AuditReader:  audit.NewReader(pool),
		Blocklist:    blocklist,
		Metrics:      m,
		Ready:        pool.Ping,
	}, RouterOptions{
		FrontendURL:    cfg.FrontendURL,
		ExposeDetails:  cfg.IsDev(),
		TrustedProxies: trusted,
	})
	return router, verificationSvc
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (a *App) Start() error {
	addr := a.Config.HTTPAddr()
	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a.server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// expires, then closes the pool.
func (a *App) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down application")
	var err error
	if a.server != nil {
		err = a.server.Shutdown(ctx)
	}
	a.Close()
	return err
}

// Close releases the database pool.
func (a *App) Close() {
	if a.DB != nil {
		log.Info().Msg("Closing database connection")
		db.Close(a.DB)
		a.DB = nil
	}
}

// SetupLogger configures the global logger: console output in development,
// JSON otherwise.
func SetupLogger(level string, dev bool) {
	if dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/Ramsey-B/fern/config"
	dsrepo "github.com/Ramsey-B/fern/internal/repositories/dataset"
	eventrepo "github.com/Ramsey-B/fern/internal/repositories/datasetevent"
	"github.com/Ramsey-B/fern/pkg/database"
	fernmiddleware "github.com/Ramsey-B/fern/pkg/middleware"
	datasetroutes "github.com/Ramsey-B/fern/pkg/routes/dataset"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is stamped by the build.
var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx := context.Background()

	provider, err := initTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	dbDep := newDatabaseDependency(cfg, logger)
	serverDep := newServerDependency(cfg, logger, dbDep)

	st := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	st.AddDependency(dbDep)
	st.AddDependency(serverDep)

	if err := st.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	logger.WithField("port", cfg.Port).Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := st.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zapLogger, err := zc.Build()
	if err != nil {
		zapLogger = zap.NewNop()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func initTracing(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.TracingEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: cfg.TracingOTLPInsecure,
		})
		if err != nil {
			return nil, err
		}
		exporter = otlp
	}
	return tracing.NewProvider(cfg.AppName, exporter), nil
}

// databaseDependency connects to Postgres and applies migrations before
// anything depending on it starts.
type databaseDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	db     database.DB
	sqlxDB *sqlx.DB
}

func newDatabaseDependency(cfg config.Config, logger ectologger.Logger) *databaseDependency {
	return &databaseDependency{cfg: cfg, logger: logger}
}

func (d *databaseDependency) GetName() string {
	return "database"
}

func (d *databaseDependency) DependsOn() []string {
	return nil
}

func (d *databaseDependency) Start(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.cfg.DatabaseHost,
		d.cfg.DatabasePort,
		d.cfg.DatabaseUserName,
		d.cfg.DatabasePassword,
		d.cfg.DatabaseName,
		d.cfg.DatabaseSSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, d.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(d.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(d.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(d.cfg.DatabaseConnMaxLifetime)

	d.sqlxDB = db
	d.db = database.NewDatabaseInstance(db, d.logger)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrations := database.NewMigrationService(d.logger, &database.MigrationConfig{
		MigrationFolderPath: d.cfg.DatabaseMigrationFolderPath,
		Version:             uint(d.cfg.DatabaseMigrationVersion),
		Force:               d.cfg.DatabaseMigrationForce,
		AutoRollback:        d.cfg.DatabaseMigrationAutoRollback,
	})

	return migrations.Migrate(d.cfg.DatabaseName, driver)
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// serverDependency owns the echo instance and the HTTP listener.
type serverDependency struct {
	cfg     config.Config
	logger  ectologger.Logger
	dbDep   *databaseDependency
	server  *http.Server
	checker *health.Checker
}

func newServerDependency(cfg config.Config, logger ectologger.Logger, dbDep *databaseDependency) *serverDependency {
	return &serverDependency{cfg: cfg, logger: logger, dbDep: dbDep}
}

func (s *serverDependency) GetName() string {
	return "http-server"
}

func (s *serverDependency) DependsOn() []string {
	return []string{"database"}
}

func (s *serverDependency) Start(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = fernmiddleware.Error(s.logger)

	e.Use(otelecho.Middleware(s.cfg.AppName))
	e.Use(fernmiddleware.Context())
	e.Use(fernmiddleware.Logger(s.logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: s.cfg.AllowOrigins,
		AllowMethods: s.cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	datasetRepo := dsrepo.NewRepository(s.dbDep.db, s.logger)
	eventRepo := eventrepo.NewRepository(s.dbDep.db, s.logger)

	handler := datasetroutes.NewHandler(datasetRepo, eventRepo, s.logger, s.cfg.MaximumPageLimit, s.cfg.FallbackPageLimit)
	handler.Register(e.Group("/api/v1"))

	s.checker = health.NewChecker(s.dbDep.db, version)
	s.checker.RegisterRoutes(e)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(s.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	s.checker.SetReady(true)

	return nil
}

func (s *serverDependency) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if s.checker != nil {
		s.checker.SetReady(false)
	}
	return s.server.Shutdown(ctx)
}

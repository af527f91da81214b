package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/chronicle/internal/metrics"
	"github.com/OFFIS-RIT/chronicle/internal/queue"
	mid "github.com/OFFIS-RIT/chronicle/internal/server/middleware"
	"github.com/OFFIS-RIT/chronicle/internal/storage"
	"github.com/OFFIS-RIT/chronicle/internal/util"
	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	pgstore "github.com/OFFIS-RIT/chronicle/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho builds the HTTP surface around app without touching any external
// service. m may be nil.
func NewEcho(app *mid.App, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(util.GetEnvString("BODY_LIMIT", "64M")))
	if m != nil {
		e.Use(m.Middleware())
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	RegisterRoutes(e)
	return e
}

// Migrate applies every pending migration found under path.
func Migrate(databaseURL, path string) error {
	mg, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := analysis.LoadConfig(util.GetEnvString("ANALYSIS_CONFIG", ""))
	if err != nil {
		logger.Fatal("Failed to load analysis config", "err", err)
	}

	app := &mid.App{
		Config:         cfg,
		MasterAPIKey:   util.GetEnv("MASTER_API_KEY"),
		MasterUserID:   util.GetEnv("MASTER_USER_ID"),
		MasterUserRole: util.GetEnv("MASTER_USER_ROLE"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefaultCtx(ctx, []string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Keyfunc = k.Keyfunc
	}

	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		if util.GetEnvBool("RUN_MIGRATIONS", true) {
			if err := Migrate(dbURL, util.GetEnvString("MIGRATIONS_PATH", "migrations")); err != nil {
				logger.Fatal("Failed to migrate database", "err", err)
			}
		}

		conn, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer conn.Close()
		app.Runs = pgstore.NewRunDBStorage(conn)
	} else {
		logger.Warn("DATABASE_URL not set, run persistence disabled")
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que, err := queue.Init()
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.ChronologyQueue}); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	if util.GetEnv("AWS_ENDPOINT") != "" || util.GetEnv("AWS_REGION") != "" {
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.Bucket = storage.NewBucketFromEnv(client)
		if util.GetEnv("AWS_PUBLIC_ENDPOINT") != "" {
			app.Presign = func(ctx context.Context, key string) (string, error) {
				return storage.GenerateDownloadLink(ctx, client, app.Bucket.Name(), key)
			}
		}
	}

	e := NewEcho(app, metrics.New("server"))

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

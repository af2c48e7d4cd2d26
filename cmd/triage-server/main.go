package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medscan/triage/internal/config"
	"github.com/medscan/triage/internal/domain/findings"
	"github.com/medscan/triage/internal/domain/identity"
	"github.com/medscan/triage/internal/domain/intake"
	"github.com/medscan/triage/internal/domain/notification"
	"github.com/medscan/triage/internal/domain/prescription"
	"github.com/medscan/triage/internal/domain/report"
	"github.com/medscan/triage/internal/platform/auth"
	"github.com/medscan/triage/internal/platform/blobstore"
	"github.com/medscan/triage/internal/platform/db"
	"github.com/medscan/triage/internal/platform/llm"
	"github.com/medscan/triage/internal/platform/middleware"
	"github.com/medscan/triage/internal/platform/telemetry"
	"github.com/medscan/triage/internal/platform/vision"
	"github.com/medscan/triage/internal/platform/websocket"
)

const (
	apiPrefix      = "/api/v1"
	defaultBodyCap = 1 << 20
	requestTimeout = 2 * time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage-server",
		Short: "X-ray triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				count, err := db.NewMigrator(pool, dir).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error {
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				statuses, err := db.NewMigrator(pool, dir).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func withPool(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool, cfg)
}

// analyzeCmd runs the image pipeline on a local file without a database.
func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Classify a local image and print the findings as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOffline()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := newLogger(cfg, os.Stderr)
			classifier := newClassifier(cfg, logger)
			defer classifier.Close()
			narrator, err := newNarrator(ctx, cfg, logger)
			if err != nil {
				return err
			}

			svc := intake.NewService(nil, vision.NewPreprocessor(), classifier, narrator, nil,
				intake.Config{NarrativeRequired: cfg.NarrativeRequired}, logger)
			res, err := svc.Analyze(ctx, raw)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newLogger(cfg *config.Config, out *os.File) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func newBlobStore(cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.BlobBackend {
	case "disk":
		return blobstore.NewDiskBlobStore(cfg.BlobDir)
	case "memory", "":
		return blobstore.NewInMemoryBlobStore(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func newClassifier(cfg *config.Config, logger zerolog.Logger) *vision.Classifier {
	loader := &vision.ONNXLoader{
		Path:   cfg.ModelPath,
		URL:    cfg.ModelURL,
		Client: &http.Client{Timeout: 10 * time.Minute},
		Logger: logger,
	}
	return vision.NewClassifier(loader, vision.ClassifierConfig{
		Classes: findings.NumConditions,
		Output:  vision.OutputKind(cfg.ModelOutput),
	}, logger)
}

// newNarrator returns nil when no text-generation backend is configured.
func newNarrator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (intake.Narrator, error) {
	if !cfg.NarrativeEnabled() {
		logger.Warn().Msg("GEMINI_API_KEY not set; reports will be stored without narratives")
		return nil, nil
	}
	gemini, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return nil, fmt.Errorf("init gemini: %w", err)
	}
	return findings.NewNarrativeGenerator(gemini, cfg.NarrativeTimeout), nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

// uploadLimits gives the multipart endpoints room for the image plus form
// overhead.
func uploadLimits(cfg *config.Config) map[string]int64 {
	limit := cfg.MaxUploadBytes + 1<<20
	return map[string]int64{
		apiPrefix + "/intake":  limit,
		apiPrefix + "/analyze": limit,
	}
}

type server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	store      blobstore.BlobStore
	classifier *vision.Classifier
	narrator   intake.Narrator
	hub        *websocket.Hub
}

// routes builds the echo instance with every middleware and handler wired.
func (s *server) routes() *echo.Echo {
	metrics := telemetry.New(telemetry.Config{ServiceName: "triage-server", Environment: s.cfg.Env})
	metrics.RegisterModelState(s.classifier.Ready)
	if s.pool != nil {
		metrics.RegisterPool(s.pool)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader, auth.DevRoleHeader},
	}))
	e.Use(middleware.BodyLimit(defaultBodyCap, uploadLimits(s.cfg)))
	e.Use(middleware.RequestTimeout(requestTimeout, apiPrefix+"/ws"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":           "ok",
			"model_loaded":     s.classifier.Ready(),
			"narrative":        s.narrator != nil,
			"websocket_client": s.hub.ClientCount(),
		})
	})
	e.GET(telemetry.MetricsPath, metrics.Handler())
	e.GET("/health/db", db.HealthHandler(s.pool))
	checks := []db.Check{db.PoolCheck(s.pool)}
	if s.cfg.ModelPreload {
		checks = append(checks, db.Check{Name: "classifier", Run: func(context.Context) error {
			if !s.classifier.Ready() {
				return errors.New("model not loaded")
			}
			return nil
		}})
	}
	e.GET("/health/ready", db.ReadyHandler(checks...))

	api := e.Group(apiPrefix)
	if s.cfg.IsDev() && s.cfg.AuthSigningKey == "" {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(jwtConfig(s.cfg)))
	}

	tx := db.NewTransactor(s.pool)

	notifications := notification.NewService(notification.NewRepoPG(s.pool), s.hub, s.logger)
	directory := identity.NewService(identity.NewPatientRepo(s.pool), identity.NewDoctorRepo(s.pool), notifications, s.logger)
	reports := report.NewService(report.NewRepoPG(s.pool), notifications, directory, tx, s.logger)
	prescriptions := prescription.NewService(prescription.NewRepoPG(s.pool), reports, notifications, tx, s.logger)
	submissions := intake.NewService(s.store, vision.NewPreprocessor(), s.classifier, s.narrator, reports,
		intake.Config{NarrativeRequired: s.cfg.NarrativeRequired, Observer: metrics}, s.logger)

	notification.NewHandler(notifications).RegisterRoutes(api)
	identity.NewHandler(directory).RegisterRoutes(api)
	report.NewHandler(reports).RegisterRoutes(api)
	prescription.NewHandler(prescriptions).RegisterRoutes(api)
	intake.NewHandler(submissions, s.cfg.MaxUploadBytes, s.hub).
		RegisterRoutes(api, middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	blobstore.NewHandler(s.store).RegisterRoutes(api)
	websocket.NewHandler(s.hub, s.cfg.CORSOrigins).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, err := newBlobStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	classifier := newClassifier(cfg, logger)
	defer classifier.Close()
	if cfg.ModelPreload {
		// A failed preload is retried by the first analysis request.
		if err := classifier.Init(ctx); err != nil {
			logger.Warn().Err(err).Msg("classifier preload failed")
		}
	}

	narrator, err := newNarrator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize narrative service")
	}

	srv := &server{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		store:      store,
		classifier: classifier,
		narrator:   narrator,
		hub:        websocket.NewHub(logger),
	}
	e := srv.routes()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// @title GleeWorld Hub API
// @version 1.0
// @description Announcement scheduling and lifecycle service.
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gleeworld-hub/internal/api"
	"gleeworld-hub/internal/event"
	"gleeworld-hub/internal/metrics"
	"gleeworld-hub/internal/repository"
	"gleeworld-hub/internal/repository/postgres"
	"gleeworld-hub/internal/repository/sqlite"
	"gleeworld-hub/internal/schedule"
	"gleeworld-hub/internal/scheduler"
	"gleeworld-hub/internal/service"
	"gleeworld-hub/internal/sse"
	jwtutil "gleeworld-hub/pkg/jwt"
	"gleeworld-hub/pkg/logger"
	"gleeworld-hub/pkg/mail"
	"gleeworld-hub/pkg/telegram"
)

const (
	storagePostgres = "postgres"
	storageSQLite   = "sqlite"

	recentLogCapacity = 1000
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	Database struct {
		URL         string        `mapstructure:"url"`
		MaxConns    int           `mapstructure:"max_conns"`
		PingTimeout time.Duration `mapstructure:"ping_timeout"`
	} `mapstructure:"database"`
	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	Schedule struct {
		OffsetHours int           `mapstructure:"offset_hours"`
		TickSpec    string        `mapstructure:"tick_spec"`
		TickTimeout time.Duration `mapstructure:"tick_timeout"`
	} `mapstructure:"schedule"`
	Security struct {
		InternalToken     string `mapstructure:"internal_token"`
		InternalTokenFile string `mapstructure:"internal_token_file"`
		JWTPublicKey      string `mapstructure:"jwt_public_key"`
		JWTPublicKeyFile  string `mapstructure:"jwt_public_key_file"`
	} `mapstructure:"security"`
	Notify struct {
		Telegram struct {
			BotToken string `mapstructure:"bot_token"`
			ChatID   int64  `mapstructure:"chat_id"`
		} `mapstructure:"telegram"`
		Sendgrid struct {
			APIKey    string   `mapstructure:"api_key"`
			FromEmail string   `mapstructure:"from_email"`
			FromName  string   `mapstructure:"from_name"`
			To        []string `mapstructure:"to"`
		} `mapstructure:"sendgrid"`
	} `mapstructure:"notify"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
}

func (c Config) Offset() schedule.Offset {
	return schedule.Offset(c.Schedule.OffsetHours)
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			if err := runMigrateCommand(); err != nil {
				fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
				os.Exit(1)
			}
			return
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, recentLogs, err := newLogger(cfg)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log, recentLogs); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg Config, log *zap.Logger, recentLogs *logger.RecentLogs) error {
	if !strings.EqualFold(cfg.App.Env, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	publicKey, err := jwtutil.LoadPublicKey(cfg.Security.JWTPublicKey, cfg.Security.JWTPublicKeyFile)
	if err != nil {
		return fmt.Errorf("load jwt public key: %w", err)
	}

	stores, err := openStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer stores.Close()

	sseHub := sse.NewHub(log)
	defer sseHub.Close()

	eventBus := event.NewBus()
	auditSvc := service.NewAuditService(stores.audit)
	announcementSvc := service.NewAnnouncementService(
		stores.announcements,
		stores.deliveries,
		auditSvc,
		eventBus,
		sseHub,
		cfg.Offset(),
		log,
	)
	deliverySvc := service.NewDeliveryService(
		stores.announcements,
		stores.deliveries,
		eventBus,
		cfg.Schedule.TickTimeout,
		log,
	)
	service.RegisterSubscribers(eventBus, sseHub, newNotificationService(cfg, log), log)

	cronRunner := scheduler.NewScheduler(scheduler.Deps{
		AnnouncementJob: deliverySvc,
		TickSpec:        cfg.Schedule.TickSpec,
	}, log)
	cronRunner.Start()
	defer func() {
		stopCtx := cronRunner.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(2 * time.Second):
		}
		eventBus.Wait()
	}()

	router := api.NewRouter(api.RouterDeps{
		Announcements: announcementSvc,
		Audit:         auditSvc,
		Hub:           sseHub,
		RecentLogs:    recentLogs,
		PublicKey:     publicKey,
		InternalToken: cfg.Security.InternalToken,
		AllowOrigins:  cfg.CORS.AllowOrigins,
		Ready:         stores.Ping,
		ReadyTimeout:  cfg.Database.PingTimeout,
		Logger:        log,
	})

	stopMetricsCollector := startMetricsCollector(sseHub, log)
	defer stopMetricsCollector()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	log.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("offset", cfg.Offset().String()),
		zap.String("tick_spec", cfg.Schedule.TickSpec),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown server failed", zap.Error(err))
	}
	return nil
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env failed: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GLEEWORLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "GLEEWORLD_DATABASE_URL", "DATABASE_URL")

	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("storage.driver", storagePostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("sqlite.path", "gleeworld.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("schedule.offset_hours", int(schedule.EasternStandard))
	v.SetDefault("schedule.tick_spec", scheduler.DefaultTickSpec)
	v.SetDefault("schedule.tick_timeout", "50s")
	v.SetDefault("security.internal_token", "")
	v.SetDefault("security.internal_token_file", "")
	v.SetDefault("security.jwt_public_key", "")
	v.SetDefault("security.jwt_public_key_file", "")
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("notify.sendgrid.api_key", "")
	v.SetDefault("notify.sendgrid.from_email", "")
	v.SetDefault("notify.sendgrid.from_name", "GleeWorld")
	v.SetDefault("notify.sendgrid.to", []string{})
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	if strings.TrimSpace(cfg.Security.InternalToken) == "" && strings.TrimSpace(cfg.Security.InternalTokenFile) != "" {
		// #nosec G304 -- path is provided by operator config.
		raw, err := os.ReadFile(strings.TrimSpace(cfg.Security.InternalTokenFile))
		if err != nil {
			return Config{}, fmt.Errorf("read security.internal_token_file failed: %w", err)
		}
		cfg.Security.InternalToken = strings.TrimSpace(string(raw))
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case storagePostgres:
		if cfg.Database.URL == "" {
			return errors.New("database.url is required")
		}
		if cfg.Database.MaxConns <= 0 {
			return errors.New("database.max_conns must be greater than 0")
		}
	case storageSQLite:
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", storagePostgres, storageSQLite, cfg.Storage.Driver)
	}

	if cfg.Database.PingTimeout <= 0 {
		return errors.New("database.ping_timeout must be greater than 0")
	}

	if err := cfg.Offset().Validate(); err != nil {
		return fmt.Errorf("schedule.offset_hours: %w", err)
	}
	if err := scheduler.ValidateSpec(cfg.Schedule.TickSpec); err != nil {
		return fmt.Errorf("schedule.tick_spec: %w", err)
	}
	if cfg.Schedule.TickTimeout <= 0 {
		return errors.New("schedule.tick_timeout must be greater than 0")
	}

	if cfg.Notify.Sendgrid.APIKey != "" {
		if strings.TrimSpace(cfg.Notify.Sendgrid.FromEmail) == "" {
			return errors.New("notify.sendgrid.from_email is required when an api key is set")
		}
		if len(cfg.Notify.Sendgrid.To) == 0 {
			return errors.New("notify.sendgrid.to must not be empty when an api key is set")
		}
	}
	if cfg.Notify.Telegram.BotToken != "" && cfg.Notify.Telegram.ChatID == 0 {
		return errors.New("notify.telegram.chat_id is required when a bot token is set")
	}

	if len(cfg.CORS.AllowOrigins) == 0 {
		return errors.New("cors.allow_origins must not be empty")
	}
	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return errors.New("cors.allow_origins must not contain wildcard *")
		}
	}

	return nil
}

func newLogger(cfg Config) (*zap.Logger, *logger.RecentLogs, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.App.Env, "development") {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log.level: %w", err)
		}
	}

	if cfg.Log.Encoding != "" {
		zapCfg.Encoding = cfg.Log.Encoding
	}

	base, err := zapCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger failed: %w", err)
	}

	recent := logger.NewRecentLogs(recentLogCapacity, zapcore.InfoLevel)
	return recent.Attach(base), recent, nil
}

// store bundles the repositories of one storage backend.
type store struct {
	announcements repository.AnnouncementRepository
	deliveries    repository.DeliveryRepository
	audit         repository.AuditRepository

	ping  func(ctx context.Context) error
	close func()
}

func (s *store) Ping(ctx context.Context) error { return s.ping(ctx) }

func (s *store) Close() { s.close() }

func openStore(ctx context.Context, cfg Config) (*store, error) {
	switch cfg.Storage.Driver {
	case storageSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &store{
			announcements: sqlite.NewAnnouncementRepository(db),
			deliveries:    sqlite.NewDeliveryRepository(db),
			audit:         sqlite.NewAuditRepository(db),
			ping:          db.PingContext,
			close:         func() { closeSQL(db) },
		}, nil
	default:
		pool, err := newDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &store{
			announcements: postgres.NewAnnouncementRepository(pool),
			deliveries:    postgres.NewDeliveryRepository(pool),
			audit:         postgres.NewAuditRepository(pool),
			ping:          pool.Ping,
			close:         pool.Close,
		}, nil
	}
}

func closeSQL(db *sql.DB) {
	_ = db.Close()
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

// newNotificationService returns nil when no channel is configured.
func newNotificationService(cfg Config, log *zap.Logger) *service.NotificationService {
	var (
		messenger service.Messenger
		mailer    service.Mailer
	)
	if token := strings.TrimSpace(cfg.Notify.Telegram.BotToken); token != "" {
		messenger = telegram.NewBotClient(token, nil)
	}
	if key := strings.TrimSpace(cfg.Notify.Sendgrid.APIKey); key != "" {
		mailer = mail.NewSendgridMailer(key, mail.Address{
			Name:    cfg.Notify.Sendgrid.FromName,
			Address: cfg.Notify.Sendgrid.FromEmail,
		}, "[GleeWorld] ")
	}
	if messenger == nil && mailer == nil {
		log.Info("announcement notifications disabled")
		return nil
	}

	recipients := make([]mail.Address, 0, len(cfg.Notify.Sendgrid.To))
	for _, addr := range cfg.Notify.Sendgrid.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, mail.Address{Address: addr})
		}
	}

	return service.NewNotificationService(service.NotificationConfig{
		TelegramChatID: cfg.Notify.Telegram.ChatID,
		EmailTo:        recipients,
		Offset:         cfg.Offset(),
	}, messenger, mailer, log)
}

func startMetricsCollector(sseHub *sse.SSEHub, log *zap.Logger) func() {
	if log == nil {
		log = zap.NewNop()
	}

	stopCh := make(chan struct{})

	collect := func() {
		if sseHub != nil {
			metrics.SetSSEClients(sseHub.ConnectedCount())
		}
	}

	collect()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				collect()
			}
		}
	}()

	return func() {
		close(stopCh)
	}
}

func runMigrateCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	if cfg.Storage.Driver == storageSQLite {
		db, err := sqlite.Open(context.Background(), cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("apply sqlite schema failed: %w", err)
		}
		closeSQL(db)
		fmt.Println("sqlite schema applied successfully")
		return nil
	}

	migrationDir := "/migrations"
	if _, statErr := os.Stat(migrationDir); statErr != nil {
		migrationDir = "./migrations"
	}

	if err := runMigrateUp("file://"+migrationDir, cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations failed: %w", err)
	}

	fmt.Println("migrations applied successfully")
	return nil
}

func runMigrateUp(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	port := strings.TrimSpace(os.Getenv("GLEEWORLD_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}

	resp, err := client.Get("http://localhost:" + port + "/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}

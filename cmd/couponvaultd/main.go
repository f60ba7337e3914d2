package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/couponvault/couponvault/internal/companies"
	"github.com/couponvault/couponvault/internal/extract"
	"github.com/couponvault/couponvault/internal/httpserver"
	"github.com/couponvault/couponvault/internal/store/gormstore"
	"github.com/couponvault/couponvault/pkg/coupon"
	"github.com/couponvault/couponvault/pkg/fieldcrypt"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagFieldKey       = "field-key"
	flagAIBaseURL      = "ai-base-url"
	flagAIAPIKey       = "ai-api-key"
	flagAIModel        = "ai-model"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyFieldKey       = "field_key"
	configKeyAIBaseURL      = "ai_base_url"
	configKeyAIAPIKey       = "ai_api_key"
	configKeyAIModel        = "ai_model"

	defaultDatabaseURL = "sqlite:///tmp/couponvault.db"
	defaultListenAddr  = ":8080"
	defaultAIBaseURL   = "https://api.openai.com"
	defaultAIModel     = "gpt-4o-mini"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string
	FieldKey       string
	AIBaseURL      string
	AIAPIKey       string
	AIModel        string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "couponvaultd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "couponvaultd",
		Short:         "Coupon value ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagFieldKey, "", "key material for field encryption")
	cmd.Flags().String(flagAIBaseURL, defaultAIBaseURL, "extraction API base URL")
	cmd.Flags().String(flagAIAPIKey, "", "extraction API key")
	cmd.Flags().String(flagAIModel, defaultAIModel, "extraction model name")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyFieldKey:       "FIELD_KEY",
		configKeyAIBaseURL:      "AI_BASE_URL",
		configKeyAIAPIKey:       "AI_API_KEY",
		configKeyAIModel:        "AI_MODEL",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyFieldKey:       flagFieldKey,
		configKeyAIBaseURL:      flagAIBaseURL,
		configKeyAIAPIKey:       flagAIAPIKey,
		configKeyAIModel:        flagAIModel,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.FieldKey = viper.GetString(configKeyFieldKey)
	cfg.AIBaseURL = viper.GetString(configKeyAIBaseURL)
	if cfg.AIBaseURL == "" {
		cfg.AIBaseURL = defaultAIBaseURL
	}
	cfg.AIAPIKey = viper.GetString(configKeyAIAPIKey)
	cfg.AIModel = viper.GetString(configKeyAIModel)
	if cfg.AIModel == "" {
		cfg.AIModel = defaultAIModel
	}

	if cfg.FieldKey == "" {
		return fmt.Errorf("field key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cipher, err := fieldcrypt.New(cfg.FieldKey)
	if err != nil {
		return fmt.Errorf("field cipher init: %w", err)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB, cipher)
	couponService, err := coupon.NewService(
		store,
		func() time.Time { return time.Now().UTC() },
		coupon.WithOperationLogger(operationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("coupon service init: %w", err)
	}

	catalog, err := companies.NewCatalog(store)
	if err != nil {
		return fmt.Errorf("company catalog init: %w", err)
	}

	extractor := extract.NewClient(extract.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
	}, logger)

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	return httpserver.Run(ctx, serverConfig, httpserver.Deps{
		Service:   couponService,
		Extractor: extractor,
		Catalog:   catalog,
		Logger:    logger,
	})
}

// operationLogger forwards service operation callbacks to zap.
type operationLogger struct {
	logger *zap.Logger
}

func (adapter operationLogger) LogOperation(ctx context.Context, entry coupon.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Int64("coupon_id", entry.CouponID.Int64()),
		zap.String("amount", entry.Amount.String()),
	}
	if entry.UserID.String() != "" {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("coupon operation failed", fields...)
		return
	}
	adapter.logger.Info("coupon operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "couponvault.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.CouponRecord{}, &gormstore.TransactionRecord{}, &gormstore.CompanyRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

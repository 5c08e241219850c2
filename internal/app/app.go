package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/glucotrack/internal/account"
	"github.com/hitoshi/glucotrack/internal/analysis"
	"github.com/hitoshi/glucotrack/internal/config"
	"github.com/hitoshi/glucotrack/internal/database"
	"github.com/hitoshi/glucotrack/internal/handler"
	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/logger"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/middleware"
	"github.com/hitoshi/glucotrack/internal/provisioning"
	"github.com/hitoshi/glucotrack/internal/reading"
	"github.com/hitoshi/glucotrack/internal/repository"
	"github.com/hitoshi/glucotrack/internal/roster"
	"github.com/hitoshi/glucotrack/internal/saga"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
	"github.com/hitoshi/glucotrack/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、LOG_LEVELでログレベルを設定し直す。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("provisioning_mode", cfg.ProvisioningMode),
		slog.Bool("analysis_enabled", cfg.AnalysisEnabled()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		opts, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// server はserveモードで組み立てた依存関係。
type server struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
	redis       *redis.Client // REDIS_URL未設定の場合はnil
}

// Close はserverが保持する外部リソースを解放する。
func (s *server) Close() {
	s.rateLimiter.Stop()
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// newRefreshTokenRepo はREDIS_URLが設定されていればRedis、それ以外はPostgreSQLの
// リフレッシュトークンリポジトリを返す。
func newRefreshTokenRepo(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.RefreshTokenRepository, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return repository.NewPostgresRefreshTokenRepo(db), nil, nil
	}
	client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("refresh tokens are stored in redis")
	return repository.NewRedisRefreshTokenRepo(client), client, nil
}

// newAnalyzer はGEMINI_API_KEYが設定されていればSSRF防止付きのGeminiクライアントを、
// 未設定であれば常に失敗するAnalyzerを返す。
func newAnalyzer(cfg *config.Config) (analysis.Analyzer, error) {
	if !cfg.AnalysisEnabled() {
		slog.Warn("GEMINI_API_KEY is not set: readings are saved with the fallback analysis text")
		return analysis.DisabledAnalyzer{}, nil
	}

	guard := security.NewSSRFGuard()
	if err := guard.ValidateURL(cfg.GeminiEndpoint); err != nil {
		return nil, fmt.Errorf("invalid GEMINI_ENDPOINT: %w", err)
	}
	return analysis.NewGeminiClient(
		guard.NewSafeClient(cfg.AnalysisTimeout),
		slog.Default(),
		analysis.GeminiConfig{
			APIKey:   cfg.GeminiAPIKey,
			Model:    cfg.GeminiModel,
			Endpoint: cfg.GeminiEndpoint,
		},
	), nil
}

// buildServer は全依存関係をワイヤリングしてルーターを構築する。
func buildServer(ctx context.Context, cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	readingRepo := repository.NewPostgresReadingRepo(db)
	tokenRepo, redisClient, err := newRefreshTokenRepo(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 認証基盤
	provider := identity.NewProvider(
		identRepo, tokenRepo,
		identity.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL),
		identity.Config{
			RefreshTokenTTL:   cfg.RefreshTokenTTL,
			PasswordMinLength: cfg.PasswordMinLength,
			ServiceRoleKey:    cfg.ServiceRoleKey,
		},
	)
	var admin *identity.Admin
	if cfg.ServiceRoleKey != "" {
		admin, err = provider.Admin(cfg.ServiceRoleKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create admin handle: %w", err)
		}
	}

	// 4. ドメインサービスの初期化
	st := store.New(profileRepo, readingRepo)
	sanitizer := security.NewTextSanitizer()
	compensator := saga.NewCompensator(cfg.RollbackAttempts, saga.DefaultBackoff)

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	assessor := analysis.NewAssessor(analyzer, sanitizer, collector, cfg.AnalysisTimeout)

	provisioner, err := provisioning.New(cfg.ProvisioningMode, provisioning.Deps{
		Provider:          provider,
		ServiceRoleKey:    cfg.ServiceRoleKey,
		Store:             st,
		Compensator:       compensator,
		Sanitizer:         sanitizer,
		Metrics:           collector,
		PasswordMinLength: cfg.PasswordMinLength,
	})
	if err != nil {
		return nil, err
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitProvision),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		IdentityBackend:   provider,
		AccountService: account.NewService(
			provider, admin, st, compensator, sanitizer, collector, cfg.PasswordMinLength,
		),
		ReadingService: reading.NewService(provider, st, assessor, collector),
		RosterService:  roster.NewService(provider, st),
		Provisioner:    provisioner,
	})

	return &server{router: router, rateLimiter: rateLimiter, redis: redisClient}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := buildServer(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AnalysisTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れリフレッシュトークンのクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	if cfg.RedisURL != "" {
		slog.Info("REDIS_URL is set: tokens in redis expire by TTL, cleaning only postgres leftovers")
	}

	registry := prometheus.NewRegistry()
	job := cleanup.NewCleanupJob(
		repository.NewPostgresRefreshTokenRepo(db),
		slog.Default(),
		metrics.NewCollector(registry),
		cfg.TokenRetentionDays,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("token_retention_days", cfg.TokenRetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, opts MigrateOptions) error {
	slog.Info("running database migrations",
		slog.String("action", string(opts.Action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch opts.Action {
	case MigrateStatus:
		status, err := database.Status(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		slog.Info("database migration status",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
		)
		return nil

	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", opts.Steps))
		return nil

	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
		return nil
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

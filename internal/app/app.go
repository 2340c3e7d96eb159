package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vaibhavij20/Welldoc/internal/activity"
	"github.com/vaibhavij20/Welldoc/internal/auth"
	"github.com/vaibhavij20/Welldoc/internal/config"
	"github.com/vaibhavij20/Welldoc/internal/database"
	"github.com/vaibhavij20/Welldoc/internal/googlefit"
	"github.com/vaibhavij20/Welldoc/internal/handler"
	"github.com/vaibhavij20/Welldoc/internal/logger"
	"github.com/vaibhavij20/Welldoc/internal/metrics"
	"github.com/vaibhavij20/Welldoc/internal/password"
	"github.com/vaibhavij20/Welldoc/internal/repository"
	"github.com/vaibhavij20/Welldoc/internal/security"
	"github.com/vaibhavij20/Welldoc/internal/token"
	"github.com/vaibhavij20/Welldoc/internal/totp"
	"github.com/vaibhavij20/Welldoc/internal/worker/cleanup"
)

const (
	// defaultServerPort はSERVER_PORT未設定時のポート。
	defaultServerPort = "4000"

	// providerTimeout は外部プロバイダーへの1リクエストのタイムアウト。
	providerTimeout = 10 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envファイルを読み込む（実際の環境変数を優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

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
			port = defaultServerPort
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
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("google_fit_enabled", cfg.GoogleFitEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	consentRepo := repository.NewPostgresConsentRepo(db)

	// 3. メトリクスの初期化
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 認証基盤の初期化
	hasher := password.NewBcryptHasher(cfg.BcryptCost)
	dummyHash, err := newDummyPasswordHash(hasher)
	if err != nil {
		return err
	}
	totpEngine := totp.NewEngine(totp.Config{
		Issuer:          cfg.TOTPIssuer,
		Skew:            cfg.TOTPSkew,
		BackupCodeCount: cfg.BackupCodeCount,
	})
	issuer := token.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTokenTTL)
	sanitizer := security.NewTextSanitizer()

	// 5. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo, hasher, totpEngine, issuer, sanitizer, collector,
		auth.Config{DummyPasswordHash: dummyHash},
	)
	activityService := activity.NewService(eventRepo, consentRepo, sanitizer)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		TokenVerifier:     issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		HTTPRecorder:      collector,

		HealthChecker: db,
		Gatherer:      registry,

		AuthService:     authService,
		ActivityService: activityService,
	}

	if cfg.GoogleFitEnabled() {
		// Google Fitへの送信は公開HTTPSエンドポイントに限定する
		guard := security.NewEgressGuard(providerTimeout)
		if err := guard.ValidateEndpoint(cfg.GoogleFitAPIURL); err != nil {
			return fmt.Errorf("invalid GOOGLE_FIT_API_URL: %w", err)
		}

		fitRepo := repository.NewPostgresFitTokenRepo(db)
		oauthCfg := googlefit.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		deps.FitService = googlefit.NewService(oauthCfg, fitRepo, googlefit.Config{
			APIBaseURL: cfg.GoogleFitAPIURL,
			HTTPClient: guard.Client(),
		})
		deps.FitStates = issuer
		deps.FitConfig = handler.FitHandlerConfig{
			BaseURL:      cfg.BaseURL,
			SuccessPath:  cfg.FitSuccessPath,
			CookieSecure: cfg.CookieSecure,
			CookieMaxAge: int(cfg.FitAnonRetention / time.Second),
		}
		slog.Info("google fit integration enabled")
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、未ログインGoogle Fit連携のクリーンアップジョブと
// メトリクスエンドポイントを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)
	cleanupJob.Retention = cfg.FitAnonRetention

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 4. メトリクスサーバーをバックグラウンドで起動
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("fit_anon_retention", cfg.FitAnonRetention),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newRegistry はGo/プロセスのコレクターを登録済みのレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newDummyPasswordHash は未登録ユーザーのログイン時に照合するダミーハッシュを生成する。
func newDummyPasswordHash(hasher *password.BcryptHasher) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate dummy password: %w", err)
	}
	hash, err := hasher.Hash(hex.EncodeToString(b))
	if err != nil {
		return "", fmt.Errorf("failed to hash dummy password: %w", err)
	}
	return hash, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

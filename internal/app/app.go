package app

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/hitoshi/chronique/internal/config"
	"github.com/hitoshi/chronique/internal/database"
	"github.com/hitoshi/chronique/internal/feed"
	"github.com/hitoshi/chronique/internal/handler"
	"github.com/hitoshi/chronique/internal/logger"
	"github.com/hitoshi/chronique/internal/metrics"
	"github.com/hitoshi/chronique/internal/middleware"
	"github.com/hitoshi/chronique/internal/model"
	"github.com/hitoshi/chronique/internal/pipeline"
	"github.com/hitoshi/chronique/internal/provider"
	"github.com/hitoshi/chronique/internal/repository"
	"github.com/hitoshi/chronique/internal/rewrite"
	"github.com/hitoshi/chronique/internal/security"
	"github.com/hitoshi/chronique/internal/slug"
)

const (
	defaultEnvFile    = ".env"
	defaultServerPort = "3001"
	dbPingTimeout     = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. .envファイルを読み込む（既存の環境変数は上書きしない）
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再設定
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
		slog.String("feed_url", cfg.FeedURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandRunOnce:
		return runOnce(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserve/worker/runで共有するパイプラインの構成要素。
type components struct {
	db           *sql.DB
	articles     *repository.PostgresArticleRepo
	registry     *provider.Registry
	orchestrator *pipeline.Orchestrator
	metrics      *metrics.Collector
	gatherer     prometheus.Gatherer
}

// buildComponents はDB接続を開き、パイプラインの全依存関係をワイヤリングする。
// 呼び出し側はdbをCloseすること。
func buildComponents(cfg *config.Config, log *slog.Logger) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	// 2. 起動時にマイグレーションを適用
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. リポジトリとセキュリティサービス
	articleRepo := repository.NewPostgresArticleRepo(db)
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 5. LLMプロバイダ
	registry := newRegistry(cfg, log)
	if resolved, err := registry.ResolveActive(); err != nil {
		// 起動は継続し、各記事の書き直し時にエラーとして扱う
		log.Warn("有効なLLMプロバイダを解決できません", slog.String("error", err.Error()))
	} else {
		log.Info("LLMプロバイダ",
			slog.String("provider", resolved.ProviderKey),
			slog.String("model", resolved.Model),
		)
	}

	// 6. パイプライン
	reader := feed.NewReader(cfg.FeedURL, ssrfGuard, log, cfg.FetchTimeout, cfg.FetchMaxSize)
	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Fetcher:   reader,
		Filter:    feed.NewDeduplicator(articleRepo),
		Rewriter:  rewrite.NewEngine(registry, collector, log),
		Sanitizer: sanitizer,
		Slugs:     slug.NewAllocator(articleRepo),
		Articles:  articleRepo,
		Pacer:     pipeline.NewDelayPacer(cfg.PacingDelay),
		Metrics:   collector,
		Logger:    log,
	})

	return &components{
		db:           db,
		articles:     articleRepo,
		registry:     registry,
		orchestrator: orchestrator,
		metrics:      collector,
		gatherer:     reg,
	}, nil
}

// newRegistry は設定の初期選択とクライアント群からProviderRegistryを構築する。
func newRegistry(cfg *config.Config, log *slog.Logger) *provider.Registry {
	selection := provider.NewSelectionStore(model.ActiveSelection{
		ProviderKey: cfg.LLMProvider,
		ModelKey:    cfg.LLMModel,
	})
	clients := provider.NewClients(&http.Client{Timeout: cfg.ProviderTimeout})
	return provider.NewRegistry(selection, provider.NewEnvFileStore(cfg.EnvFilePath), clients, os.LookupEnv, log)
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるcontextを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバーとスケジューラを同一プロセスで起動し、
// 管理APIからのプロバイダ切り替えと手動実行がスケジュール実行にも反映されるようにする。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	scheduler, err := pipeline.NewScheduler(c.orchestrator, cfg.CronSchedule, log)
	if err != nil {
		return err
	}

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKENが未設定のため管理APIは無効です")
	}

	ctx, stop := signalContext()
	defer stop()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		AdminToken:        cfg.AdminToken,
		Metrics:           c.metrics,
		MetricsHandler:    metrics.Handler(c.gatherer),
		Logger:            log,

		Articles: handler.NewArticleHandler(c.articles, c.articles, log),
		LLM:      handler.NewLLMHandler(c.registry, log),
		Pipeline: handler.NewPipelineHandler(ctx, c.orchestrator, log),
		Health:   handler.NewHealthHandler(c.db, c.registry, log),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("server listen error", slog.String("error", err.Error()))
		}
		stop()
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-schedulerDone
	c.orchestrator.Wait()

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// HTTPサーバーを起動せず、スケジューラのみを実行する。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	scheduler, err := pipeline.NewScheduler(c.orchestrator, cfg.CronSchedule, log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log.Info("worker starting",
		slog.String("schedule", cfg.CronSchedule),
		slog.Duration("pacing_delay", cfg.PacingDelay),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	log.Info("worker stopped gracefully")
	return nil
}

// runOnce はパイプラインを1回だけ実行して終了する。
func runOnce(cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer c.db.Close()

	ctx, stop := signalContext()
	defer stop()

	summary, err := c.orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	log.Info("pipeline run finished",
		slog.Int("candidates", summary.Candidates),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/api/health", port))
}

func checkHealth(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	// url.Userは*をエスケープするため文字列を直接組み立てる
	userinfo := ""
	if u.User != nil {
		userinfo = "***@"
	}
	return u.Scheme + "://" + userinfo + u.Host + u.Path
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaibhavij20/Welldoc/internal/metrics"
	"github.com/vaibhavij20/Welldoc/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder

	// ヘルスチェック・メトリクス
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface

	// イベント・同意
	ActivityService ActivityServiceInterface

	// Google Fit（nilの場合はルートを登録しない）
	FitService FitServiceInterface
	FitStates  StateSigner
	FitConfig  FitHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (Bearer | OptionalBearer)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	requireAuth := middleware.NewBearerAuthMiddleware(deps.TokenVerifier)
	optionalAuth := middleware.NewOptionalBearerMiddleware(deps.TokenVerifier)

	authHandler := NewAuthHandler(deps.AuthService)
	activityHandler := NewActivityHandler(deps.ActivityService)

	var fitHandler *FitHandler
	if deps.FitService != nil {
		fitHandler = NewFitHandler(deps.FitService, deps.FitStates, deps.FitConfig)
	}

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/me", authHandler.Me)
			r.Route("/2fa", func(r chi.Router) {
				r.Post("/setup", authHandler.SetupTwoFactor)
				r.Post("/verify", authHandler.VerifyTwoFactor)
				r.Post("/disable", authHandler.DisableTwoFactor)
				r.Get("/status", authHandler.TwoFactorStatus)
			})
		})

		// Google Fit連携（Bearerトークンが無い場合は連携Cookieで識別）
		if fitHandler != nil {
			r.Route("/google-fit", func(r chi.Router) {
				r.Get("/callback", fitHandler.Callback)

				r.Group(func(r chi.Router) {
					r.Use(optionalAuth)
					r.Get("/login", fitHandler.Login)
					r.Get("/url", fitHandler.URL)
					r.Get("/status", fitHandler.Status)
				})
			})
		}
	})

	// イベント・同意記録（Bearerトークンは任意）
	r.Group(func(r chi.Router) {
		r.Use(optionalAuth)

		r.Post("/api/events", activityHandler.RecordEvent)
		r.Post("/api/consent", activityHandler.RecordConsent)
	})

	if fitHandler != nil {
		r.With(optionalAuth).Get("/api/fit/metrics", fitHandler.Metrics)
	}

	return r
}

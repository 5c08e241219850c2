package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/middleware"
	"github.com/hitoshi/glucotrack/internal/provisioning"
)

// HealthChecker はヘルスチェックで依存先の疎通を確認するインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合/metricsは提供しない
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証基盤。セッション検証と患者作成時のクライアント生成に使う
	IdentityBackend identity.Backend

	AccountService AccountServiceInterface
	ReadingService ReadingServiceInterface
	RosterService  RosterServiceInterface
	Provisioner    provisioning.Provisioner
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → RateLimit(General)
//
// /health, /metrics と登録・ログイン系の認証ルートはSession以降の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AccountService)
	readingHandler := NewReadingHandler(deps.ReadingService)
	rosterHandler := NewRosterHandler(deps.RosterService)
	patientHandler := NewPatientHandler(deps.Provisioner, deps.IdentityBackend)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.IdentityBackend))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.IdentityBackend))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 患者
		r.Route("/api/readings", func(r chi.Router) {
			r.Post("/", readingHandler.Submit)
			r.Get("/", readingHandler.History)
		})

		// 医師
		r.With(deps.RateLimiter.ProvisionMiddleware()).Post("/api/patients", patientHandler.Create)
		r.Route("/api/roster", func(r chi.Router) {
			r.Get("/", rosterHandler.Roster)
			r.Get("/summary", rosterHandler.Summary)
			r.Get("/{id}/readings", rosterHandler.PatientReadings)
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認し、200または503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

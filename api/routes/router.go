package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/circulation-backend/api/controllers"
	"github.com/angelmondragon/circulation-backend/api/middleware"
	"github.com/angelmondragon/circulation-backend/internal/auth"
	"github.com/angelmondragon/circulation-backend/internal/catalog"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/dashboard"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/ledger"
	"github.com/angelmondragon/circulation-backend/internal/users"
	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// redisStore is what the HTTP edge needs from redis: idempotency records,
// rate-limit counters and the token revocation list.
type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	Redis     redisStore
	Gatherer  prometheus.Gatherer
	Readiness map[string]controllers.Pinger

	Auth      auth.Service
	Users     users.Service
	Catalog   catalog.Service
	Copies    copies.Service
	Ledger    ledger.Service
	Fines     fines.Service
	Dashboard dashboard.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.RequestScope(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Readiness))
	})

	var (
		rateStore   middleware.RateLimiterStore
		idemStore   middleware.IdempotencyStore
		revocations middleware.RevocationChecker
	)
	if d.Redis != nil {
		rateStore, idemStore, revocations = d.Redis, d.Redis, d.Redis
	}

	loginLimit := middleware.RateLimit(middleware.LoginPolicy(
		cfg.RateLimit.LoginWindow,
		cfg.RateLimit.LoginIPLimit,
		cfg.RateLimit.LoginIdentLimit,
	), rateStore, logg)
	borrowLimit := middleware.RateLimit(middleware.BorrowPolicy(
		cfg.RateLimit.BorrowWindow,
		cfg.RateLimit.BorrowMemberLimit,
	), rateStore, logg)

	// Keys are scoped per caller, so idempotency sits behind Auth wherever
	// there is one.
	idempotent := middleware.Idempotency(idemStore, cfg.Redis.IdempotencyTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimit).Post("/login", controllers.AuthLogin(d.Auth, logg))
			r.With(loginLimit, idempotent).Post("/register", controllers.AuthRegister(d.Users, d.Auth, logg))
			r.With(middleware.Auth(cfg.JWT, revocations, logg)).Post("/logout", controllers.AuthLogout(d.Auth, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, revocations, logg))
			r.Use(idempotent)

			r.Get("/me", controllers.Me(d.Users, logg))

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireCapability(pkgAuth.CapabilityManageUsers, logg))
				r.Post("/", controllers.CreateUser(d.Users, logg))
				r.Get("/members", controllers.ListMembers(d.Users, logg))
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", controllers.ListCategories(d.Catalog, logg))
				r.With(middleware.RequireCapability(pkgAuth.CapabilityManageCatalog, logg)).Post("/", controllers.CreateCategory(d.Catalog, logg))
			})

			r.Route("/titles", func(r chi.Router) {
				r.Get("/", controllers.SearchTitles(d.Catalog, logg))
				r.Get("/{titleId}", controllers.GetTitle(d.Catalog, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(pkgAuth.CapabilityManageCatalog, logg))
					r.Post("/", controllers.CreateTitle(d.Catalog, logg))
					r.Get("/{titleId}/copies", controllers.ListTitleCopies(d.Copies, logg))
					r.Post("/{titleId}/copies", controllers.AddCopies(d.Catalog, logg))
				})
			})

			r.With(middleware.RequireCapability(pkgAuth.CapabilityManageCatalog, logg)).
				Patch("/copies/{copyId}/status", controllers.SetCopyStatus(d.Copies, logg))

			r.Route("/ledger", func(r chi.Router) {
				r.With(middleware.RequireCapability(pkgAuth.CapabilityBorrow, logg), borrowLimit).Post("/requests", controllers.RequestBorrow(d.Ledger, logg))
				r.Get("/me", controllers.MyLoans(d.Ledger, logg))
				r.Get("/{entryId}", controllers.GetEntry(d.Ledger, logg))
				r.With(middleware.RequireCapability(pkgAuth.CapabilityBorrow, logg), borrowLimit).Post("/{entryId}/renew", controllers.RenewLoan(d.Ledger, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireCapability(pkgAuth.CapabilityManageLoans, logg))
					r.Post("/{entryId}/approve", controllers.ApproveBorrow(d.Ledger, logg))
					r.Post("/{entryId}/reject", controllers.RejectBorrow(d.Ledger, logg))
					r.Post("/{entryId}/return", controllers.ReturnLoan(d.Ledger, logg))
				})
			})

			r.Route("/fines", func(r chi.Router) {
				r.Get("/me", controllers.MyFines(d.Fines, logg))
				r.With(middleware.RequireCapability(pkgAuth.CapabilityManageFines, logg)).Post("/{fineId}/pay", controllers.PayFine(d.Fines, logg))
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Use(middleware.RequireCapability(pkgAuth.CapabilityViewDashboard, logg))
				r.Get("/", controllers.DashboardSummary(d.Dashboard, logg))
				r.Get("/counts", controllers.DashboardCounts(d.Dashboard, logg))
				r.Get("/pending", controllers.DashboardPending(d.Dashboard, logg))
				r.Get("/active", controllers.DashboardActive(d.Dashboard, logg))
				r.Get("/returned", controllers.DashboardReturned(d.Dashboard, logg))
			})
		})
	})

	return r
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pouchrx/pouchrx/internal/config"
	"github.com/pouchrx/pouchrx/internal/domain/booking"
	"github.com/pouchrx/pouchrx/internal/domain/intake"
	"github.com/pouchrx/pouchrx/internal/domain/payout"
	"github.com/pouchrx/pouchrx/internal/domain/prescription"
	"github.com/pouchrx/pouchrx/internal/domain/shop"
	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/internal/platform/blobstore"
	"github.com/pouchrx/pouchrx/internal/platform/clock"
	"github.com/pouchrx/pouchrx/internal/platform/db"
	"github.com/pouchrx/pouchrx/internal/platform/middleware"
	"github.com/pouchrx/pouchrx/internal/platform/payment"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
)

// stores bundles the persistence backends so the server can run against
// Postgres and Redis or entirely in process.
type stores struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	prescriptions prescription.Repository
	orders        shop.OrderRepository
	carts         shop.CartStore
	bookings      booking.Repository
	reservations  booking.ReservationStore
	payouts       payout.Repository
	intake        intake.Repository
	blobs         blobstore.BlobStore
	tx            db.Transactor
	checks        []db.Check
}

func (s *stores) close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

func memoryStores(cfg *config.Config, clk clock.Clock) *stores {
	return &stores{
		prescriptions: prescription.NewMemoryRepo(),
		orders:        shop.NewMemoryOrderRepo(),
		carts:         shop.NewMemoryStore(),
		bookings:      booking.NewMemoryRepo(),
		reservations:  booking.NewMemoryReservations(clk, cfg.SlotCapacity),
		payouts:       payout.NewMemoryRepo(),
		intake:        intake.NewMemoryRepo(),
		blobs:         blobstore.NewInMemoryBlobStore(),
		tx:            db.NoopTransactor{},
	}
}

func pgStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to redis")

	return &stores{
		pool:          pool,
		redis:         rdb,
		prescriptions: prescription.NewRepoPG(pool),
		orders:        shop.NewOrderRepoPG(pool),
		carts:         shop.NewRedisStore(rdb, shop.DefaultSnapshotTTL),
		bookings:      booking.NewRepoPG(pool),
		reservations:  booking.NewRedisReservations(rdb, cfg.SlotCapacity),
		payouts:       payout.NewRepoPG(pool),
		intake:        intake.NewRepoPG(pool),
		blobs:         blobstore.NewPGBlobStore(pool),
		tx:            db.NewTransactor(pool),
		checks: []db.Check{{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}}},
	}, nil
}

func paymentGateway(cfg *config.Config, logger zerolog.Logger) payment.Gateway {
	if cfg.PaymentFunctionsURL != "" {
		return payment.NewFunctionGateway(cfg.PaymentFunctionsURL, cfg.PaymentTimeout, payment.WithLogger(logger))
	}
	logger.Warn().Bool("auto_pay", cfg.IsDev()).Msg("PAYMENT_FUNCTIONS_URL not set, using mock payment gateway")
	return payment.NewMockGateway(cfg.IsDev())
}

type app struct {
	echo   *echo.Echo
	sweeps []booking.Sweep
}

func newApp(cfg *config.Config, st *stores, clk clock.Clock, logger zerolog.Logger) *app {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", shop.SessionHeader, auth.DevUserHeader, auth.DevRoleHeader},
		ExposeHeaders:    []string{shop.SessionHeader},
		AllowCredentials: true,
	}))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(requestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if st.pool != nil {
		e.GET("/health/db", db.HealthHandler(st.pool, st.checks...))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "backend": "memory"})
		})
	}

	signer := blobstore.NewURLSigner([]byte(cfg.DocumentURLSecret), cfg.DocumentURLTTL, clk.Now)
	blobstore.NewHandler(st.blobs, signer).RegisterRoutes(apiV1)

	rxSvc := prescription.NewService(st.prescriptions, st.blobs, signer, clk, cfg.AllowanceCap, logger)
	prescription.NewHandler(rxSvc).RegisterRoutes(apiV1)

	shipping := shop.ShippingPolicy{
		StandardMinor:   cfg.ShippingStandardMinor,
		ExpeditedMinor:  cfg.ShippingExpeditedMinor,
		ExpeditedFreeAt: cfg.ShippingExpeditedFreeAt,
	}
	shopSvc := shop.NewService(st.carts, st.orders, rxSvc, st.tx, shipping, clk, logger)
	shop.NewHandler(shopSvc, cfg.IsProduction()).RegisterRoutes(apiV1)

	payoutSvc := payout.NewService(st.payouts, clk, logger)
	payout.NewHandler(payoutSvc).RegisterRoutes(apiV1)

	settings := booking.Settings{
		ReservationTTL:      cfg.ReservationTTL,
		RescheduleMinNotice: cfg.RescheduleMinNotice,
		FeeMinor:            cfg.ConsultationFeeMinor,
		PayoutMinor:         cfg.DoctorPayoutMinor,
		Currency:            "usd",
	}
	intakeSvc := intake.NewService(st.intake, clk, cfg.MinPatientAge, logger)
	bookingSvc := booking.NewService(st.bookings, st.reservations, paymentGateway(cfg, logger), payoutSvc, intakeSvc, st.tx, clk, settings, logger)
	booking.NewHandler(bookingSvc).RegisterRoutes(apiV1)

	intake.NewHandler(intakeSvc).RegisterRoutes(apiV1)

	return &app{
		echo: e,
		sweeps: []booking.Sweep{
			bookingSvc.ExpireStaleSweep(),
			{Name: "prescription_expiry", Run: rxSvc.ExpireDue},
		},
	}
}

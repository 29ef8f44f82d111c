package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/curvebank/pool-engine/internal/api"
	"github.com/curvebank/pool-engine/internal/engine"
	"github.com/curvebank/pool-engine/internal/exposure"
	"github.com/curvebank/pool-engine/internal/metrics"
	"github.com/curvebank/pool-engine/internal/model"
	"github.com/curvebank/pool-engine/internal/store"
	"github.com/curvebank/pool-engine/internal/vault"
)

// envDecimal reads a decimal from the environment, falling back to def.
func envDecimal(key, def string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Error("invalid decimal in environment", "key", key, "value", v)
		os.Exit(1)
	}
	return d
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Engine configuration ---
	cfg := engine.Config{
		Curve: model.CurveConfig{
			Cap:            envDecimal("CAP", "1000000000"),
			ExposureFactor: envDecimal("EXPOSURE_FACTOR", "100000"),
			VirtualLimit:   envDecimal("VIRTUAL_LIMIT", "100000"),
			ScaleConstant:  envDecimal("SCALE_CONSTANT", "1"),
		},
		ImbalanceTolerance: envDecimal("IMBALANCE_TOLERANCE", "0.01"),
	}

	// --- Store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Vault ---
	// The simulated vault compounds daily at SIM_APY on the wall clock.
	// A production deployment swaps in an adapter for the real venue here.
	vlt := vault.NewSimVault(envDecimal("SIM_APY", "0.05"), nil)

	// --- Liquidity concentration limits ---
	limiter := exposure.NewLimiter(
		envDecimal("MAX_POSITION_PRINCIPAL", "0"),
		envDecimal("MAX_PROVIDER_SHARE", "0"),
	)

	// --- Engine ---
	eng, err := engine.New(cfg, vlt, st, limiter)
	if err != nil {
		slog.Error("engine construction failed", "err", err)
		os.Exit(1)
	}
	if err := eng.Restore(context.Background()); err != nil {
		slog.Error("snapshot restore failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(eng, vlt, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pool-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pool-engine stopped")
}

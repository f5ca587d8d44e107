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

	"github.com/ammx/swap-engine/internal/exchange"
	"github.com/ammx/swap-engine/internal/metrics"
	"github.com/ammx/swap-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
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

	// --- Admin authorization ---
	// Bearer-token predicate; an empty ADMIN_TOKEN disables all admin
	// operations rather than opening them up.
	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		slog.Warn("ADMIN_TOKEN not set, admin endpoints disabled")
	}
	isAdmin := func(r *http.Request) bool {
		return adminToken != "" && r.Header.Get("Authorization") == "Bearer "+adminToken
	}

	// --- WebSocket hub ---
	wsHub := exchange.NewWSHub()
	go wsHub.Run()

	// --- Exchange service ---
	svc := exchange.NewService(st, isAdmin, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"swap-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time swap updates.
		r.Get("/ws", wsHub.HandleWS)

		// Pool management.
		r.Get("/pools", svc.HandleListPools)
		r.Post("/pools", svc.HandleCreatePool)
		r.Get("/pools/{tokenA}/{tokenB}", svc.HandleGetPool)

		// Liquidity provision.
		r.Post("/liquidity/add", svc.HandleAddLiquidity)
		r.Post("/liquidity/remove", svc.HandleRemoveLiquidity)
		r.Get("/positions/{provider}", svc.HandleGetPositions)
		r.Get("/positions/{provider}/{tokenA}/{tokenB}", svc.HandleGetPositions)

		// Swap execution and quoting.
		r.Post("/swap/exact-in", svc.HandleSwapExactIn)
		r.Post("/swap/exact-out", svc.HandleSwapExactOut)
		r.Get("/quote/out", svc.HandleQuoteOut)
		r.Get("/quote/in", svc.HandleQuoteIn)

		// Analytics and reference data.
		r.Get("/stats/{tokenA}/{tokenB}", svc.HandleGetStats)
		r.Get("/swaps/{tokenA}/{tokenB}", svc.HandleGetSwaps)
		r.Get("/currencies/{token}", svc.HandleGetCurrency)
		r.Get("/price-feeds/{token}", svc.HandleGetPriceFeed)

		// Admin operations.
		r.Post("/admin/currencies", svc.HandleAddCurrency)
		r.Post("/admin/price-feeds", svc.HandleUpdatePriceFeed)
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
		slog.Info("swap-engine listening", "port", port)
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

	slog.Info("shutting down swap-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("swap-engine stopped")
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tighten/internal/config"
	"tighten/internal/engine"
	"tighten/internal/gateway"
	"tighten/internal/logging"
	"tighten/internal/registry"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (optional)")
	flag.Parse()

	cfg := config.LoadFromEnv(*envPath)

	log, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	hub := gateway.NewHub(log, cfg.CORSOrigins)

	defaultConfig := engine.Config{
		SpreadTimerMs:      int64(cfg.SpreadTimerSeconds) * 1000,
		OpenTradingTimerMs: int64(cfg.OpenTradingTimerSeconds) * 1000,
		NoTighterWindowMs:  int64(cfg.NoTighterWindowSeconds) * 1000,
	}

	// Registry needs an Observer (the Dispatcher); the Dispatcher needs the
	// Registry. Break the cycle: build the Dispatcher against a throwaway
	// registry, build the real registry with the Dispatcher as its
	// Observer, then rewire the Dispatcher onto it.
	dispatcher := gateway.NewWithDefaults(log, registry.New(nil), hub, defaultConfig)
	reg := registry.New(dispatcher)
	dispatcher.SetRegistry(reg)
	hub.Wire(dispatcher)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	allowedOrigins := cfg.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"games":  reg.GameCount(),
		})
	})
	r.Get("/ws", hub.ServeHTTP)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	dispatcher.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
}

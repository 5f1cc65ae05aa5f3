package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"engagement-engine/internal/checkcache"
	"engagement-engine/internal/compliance"
	"engagement-engine/internal/config"
	"engagement-engine/internal/lifecycle"
	"engagement-engine/internal/notify"
	"engagement-engine/internal/store"
	"engagement-engine/internal/telemetry"
	"engagement-engine/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	checks := checkcache.New(redisClient, cfg.CheckCacheTTL)
	gate := compliance.NewGate(st, checks)
	notifier := notify.New(redisClient, cfg.NotifyChannel)
	controller := lifecycle.New(st, gate, notifier, cfg.AdminReviewWindow)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	sweeper := worker.NewSweeper(cfg, st, controller)
	log.Printf("sweeper started with interval=%s review_window=%s", cfg.SweepInterval, cfg.AdminReviewWindow)
	if err := sweeper.Run(ctx); err != nil {
		log.Printf("sweeper stopped: %v", err)
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"engagement-engine/internal/api"
	"engagement-engine/internal/availability"
	"engagement-engine/internal/checkcache"
	"engagement-engine/internal/compliance"
	"engagement-engine/internal/config"
	"engagement-engine/internal/incentive"
	"engagement-engine/internal/lifecycle"
	"engagement-engine/internal/notify"
	"engagement-engine/internal/ratelimit"
	"engagement-engine/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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
	schedules := availability.NewManager(st)
	incentives := incentive.NewCalculator(st)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.ClaimRateCapacity, cfg.ClaimRateRefill, time.Hour)

	server := api.New(cfg, st, controller, gate, schedules, incentives, checks, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

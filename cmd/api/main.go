package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tally/api/internal/app"
	"tally/api/internal/archive"
	"tally/api/internal/auth"
	"tally/api/internal/config"
	"tally/api/internal/gitrepo"
	"tally/api/internal/leaderboard"
	"tally/api/internal/scheduler"
	"tally/api/internal/search"
	"tally/api/internal/staleness"
	"tally/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	inspector := gitrepo.NewInspector(cfg.ReposDir)
	tracker := staleness.NewHTTPTracker(cfg.TrackerBaseURL, cfg.TrackerToken)
	evaluator := staleness.NewEvaluator(dataStore, inspector, tracker)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var cache *leaderboard.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = leaderboard.NewCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
	} else {
		log.Printf("No Redis configured, leaderboard reads go to PostgreSQL")
	}

	var service *app.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		boardArchive, err := archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		service = app.NewService(dataStore, cache, searchService, evaluator, boardArchive)
	} else {
		log.Printf("No MinIO configured, board archiving disabled")
		service = app.NewService(dataStore, cache, searchService, evaluator, nil)
	}

	runner := scheduler.NewRunner(service, cfg.RecomputeInterval, cfg.EvaluateInterval)
	runner.Start()
	defer runner.Stop()

	verifier := auth.NewVerifier(cfg.ServiceToken, cfg.AdminTokenHash)
	httpServer := app.NewHTTPServer(service, runner, verifier, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tally API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/umutdz/dca/internal/config"
	"github.com/umutdz/dca/internal/server"
	"github.com/umutdz/dca/internal/service"
	"github.com/umutdz/dca/internal/util"
	"github.com/umutdz/dca/pkg/auth"
	"github.com/umutdz/dca/pkg/cache"
	"github.com/umutdz/dca/pkg/llm"
	"github.com/umutdz/dca/pkg/pdftext"
	"github.com/umutdz/dca/pkg/queue"
	"github.com/umutdz/dca/pkg/repo"
	"github.com/umutdz/dca/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	db, err := repo.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	blobs, err := storage.NewMinioBlobStore(
		cfg.Minio.Endpoint,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.Bucket,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		log.Fatalf("failed to init token manager: %v", err)
	}
	gemini, err := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	users := repo.NewPostgresUserRepository(db)
	history := repo.NewPostgresChatHistoryRepository(db)
	pdfs := repo.NewPDFRepository(
		repo.NewRedisRepository(redisClient, repo.PDFEntity()),
		repo.NewRedisRepository(redisClient, repo.SelectedPDFEntity()),
	)

	authSvc := service.NewAuthService(users, tokens)
	pdfSvc := service.NewPDFService(pdfs, blobs, pdftext.Pages, pdftext.Join)
	chatSvc := service.NewChatService(
		pdfSvc,
		history,
		gemini,
		cache.New(redisClient, "chat", cfg.CacheTTL),
		gemini.Model(),
	)

	parseQueue, err := queue.NewRedisJobQueue(redisClient, queue.Config{
		Stream: cfg.Queue.Stream,
		Group:  cfg.Queue.Group,
	})
	if err != nil {
		log.Fatalf("failed to init parse queue: %v", err)
	}

	httpServer := server.New(server.Config{
		Auth:           authSvc,
		PDFs:           pdfSvc,
		Chat:           chatSvc,
		Queue:          parseQueue,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: trusted,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	parseQueue.Start(ctx, cfg.Queue.Concurrency, func(ctx context.Context, job queue.ParseJob) error {
		ok, err := pdfSvc.Parse(ctx, job.PDFID)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("background parse extracted no text", "pdf_id", job.PDFID, "user_id", job.UserID)
		}
		return nil
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}
}

package main

import (
	"context"
	"llmproxy/internal/api"
	"llmproxy/internal/chat"
	"llmproxy/internal/chatgpt"
	"llmproxy/internal/costguard"
	"llmproxy/internal/messagestore"
	"llmproxy/internal/middleware"
	"llmproxy/internal/pricing"
	"llmproxy/internal/relay"
	"llmproxy/internal/routing"
	"llmproxy/internal/usage"
	"llmproxy/pkg/config"
	"llmproxy/pkg/db"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const costWindow = time.Hour

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	cfg := config.LoadConfig()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("Неизвестный уровень логирования %q, используется info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	database, err := db.NewPostgresDB(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Ошибка при подключении к базе данных: %v", err)
	}
	defer database.Close()

	messageStoreRepo := messagestore.NewRepository(database)
	messageStoreService := messagestore.NewService(messageStoreRepo, cfg.DefaultDailyLimit)

	router := routing.NewRouterFromConfig(cfg)
	if err := router.Refresh(ctx, messageStoreService); err != nil {
		logrus.Warnf("Маршрутизация запущена только по префиксам: %v", err)
	}
	router.StartRefresher(ctx, messageStoreService, cfg.RoutingRefreshInterval)

	pricingCache := pricing.NewCache(cfg.PricingFeedURL, cfg.PricingRefreshInterval, &http.Client{Timeout: 30 * time.Second})
	if err := pricingCache.Refresh(ctx); err != nil {
		logrus.Warnf("Цены моделей недоступны, стоимость не будет учитываться: %v", err)
	}
	pricingCache.StartRefresher(ctx)

	governor := costguard.NewGovernor(cfg.HourlyCostLimit, costWindow)

	// Streams can run for minutes, so only the idle timer bounds them.
	upstreamClient := &http.Client{}
	streamRelay := relay.New(upstreamClient, cfg.StreamIdleTimeout)
	completer := chatgpt.NewService(&http.Client{Timeout: 5 * time.Minute})
	reconciler := usage.NewReconciler(messageStoreService, pricingCache, governor)

	chatService := chat.NewService(messageStoreService, router, governor, streamRelay, completer, reconciler, cfg.PreflightCostEstimate)

	apiHandler := api.NewHandler(chatService, messageStoreService, governor, pricingCache, router, api.Limits{
		MaxMessageChars:    cfg.MaxMessageChars,
		MaxMessages:        cfg.MaxMessages,
		MaxAttachments:     cfg.MaxAttachments,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		MaxRequestBytes:    cfg.MaxRequestBytes,
	})

	mux := http.NewServeMux()
	apiHandler.Routes(mux, cfg.JWTSigningKey)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	limiter.StartJanitor(ctx)

	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Logging,
		middleware.CORS(cfg.CORSAllowedOrigin),
		limiter.Middleware,
	)

	server := &http.Server{
		Addr:              cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("Сервер запущен на %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Ошибка при запуске сервера: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Завершение работы сервера...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Ошибка при остановке сервера: %v", err)
	}
	logrus.Info("Сервер остановлен")
}

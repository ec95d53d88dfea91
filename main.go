package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pepper/internal/api"
	"pepper/internal/bot"
	"pepper/internal/chat"
	"pepper/internal/config"
	"pepper/internal/logger"
	"pepper/internal/redis"
	"pepper/internal/service/transcript"
	"pepper/internal/storage"
	"pepper/internal/worker"
)

func main() {
	cfgPath := os.Getenv("PEPPER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Init(logger.Options{Environment: cfg.BasicConfig.Environment, Level: cfg.Log.Level})

	dbType := os.Getenv("PEPPER_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info().Str("driver", dbType).Msg("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	// Create necessary tables: sessions, messages, pending_phrases, annotations
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("create redis client")
		}
		defer rdb.Close()
	}

	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Second,
	)

	baseURL := bot.ResolveBaseURL(cfg.Bot.Host, "localhost", cfg.Bot.PathPrefix)
	botClient := bot.NewClient(bot.Options{
		BaseURL:       baseURL,
		Sender:        cfg.Bot.Sender,
		Conversation:  cfg.Bot.Conversation,
		FallbackReply: cfg.Bot.FallbackReply,
	})
	manager := worker.NewManager(worker.ManagerOptions{
		Store:    transcript.NewService(db),
		Executor: dispatcher,
		Redis:    rdb,
		Timeout:  time.Duration(cfg.Bot.TimeoutSeconds) * time.Second,
		Bridges: func(sessionID string) chat.Bridge {
			return botClient.WithSender(sessionID)
		},
	})
	defer worker.Shutdown(dispatcher, manager)

	router := gin.Default()
	api.NewHandler(manager).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Info().Str("addr", addr).Str("bot", baseURL).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

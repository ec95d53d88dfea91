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

	"pepper/internal/annotate"
	"pepper/internal/api"
	"pepper/internal/config"
	"pepper/internal/depparse"
	"pepper/internal/logger"
	"pepper/internal/service/corpus"
	"pepper/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("PEPPER_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Init(logger.Options{Environment: cfg.BasicConfig.Environment, Level: cfg.Log.Level})

	dbType := cfg.Annotator.DatabaseDriver
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", dbType).Msg("open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	vocab := annotate.DefaultVocabulary()
	if cfg.Annotator.RelationsFile != "" {
		if vocab, err = annotate.LoadVocabulary(cfg.Annotator.RelationsFile); err != nil {
			logger.Fatal().Err(err).Msg("load relations")
		}
	}
	svc := corpus.NewService(db, cfg.Annotator.MinTokens, vocab)
	if path := cfg.Annotator.PendingFile; path != "" {
		if err := importPending(svc, path); err != nil {
			logger.Fatal().Err(err).Str("file", path).Msg("import pending phrases")
		}
	}

	renderer := depparse.New(cfg.Annotator.ParserURL, &http.Client{Timeout: 30 * time.Second})
	router := gin.Default()
	api.NewAnnotatorHandler(svc, renderer).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.Annotator.ServerAddress, Handler: router}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("annotator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func importPending(svc *corpus.Service, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := svc.ImportPending(context.Background(), f)
	if err != nil {
		return err
	}
	logger.Info().Int("added", n).Msg("pending phrases imported")
	return nil
}

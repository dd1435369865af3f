// cheaprelay is an OpenAI-compatible reverse proxy that routes each chat
// completion to the cheapest viable model across several LLM providers,
// compresses prompts, enforces budgets, and learns from task outcomes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cheaprelay/cheaprelay/common/client"
	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/controller"
	"github.com/cheaprelay/cheaprelay/model"
	"github.com/cheaprelay/cheaprelay/relay"
	"github.com/cheaprelay/cheaprelay/relay/activity"
	"github.com/cheaprelay/cheaprelay/relay/cache"
	"github.com/cheaprelay/cheaprelay/relay/classify"
	relaycontroller "github.com/cheaprelay/cheaprelay/relay/controller"
	"github.com/cheaprelay/cheaprelay/relay/routing"
	"github.com/cheaprelay/cheaprelay/router"
)

func main() {
	_ = godotenv.Load()
	config.Load()
	logger.Setup(config.DebugEnabled)
	client.Init()

	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("initialize database", zap.Error(err))
	}
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("close database", zap.Error(err))
		}
	}()

	registry := relay.NewRegistry()
	if err := registry.Reload(); err != nil {
		logger.Logger.Fatal("initialize providers", zap.Error(err))
	}
	if cli := registry.ClaudeCLI(); cli != nil && cli.IsAvailable() {
		go cli.StartWarmPool()
	}

	// The LLM classifier calls the CLI adapter directly, bypassing router and
	// cache so classification can never recurse into the pipeline.
	var completer classify.Completer
	if cli := registry.ClaudeCLI(); cli != nil {
		completer = cli
	}
	classifier := classify.New(completer, "haiku")

	store := cache.NewStore()
	act := activity.NewRegistry()
	rt := routing.New(classifier.Classify)
	pipeline := relaycontroller.NewPipeline(registry, store, rt, act)
	admin := controller.NewAdmin(registry, store, act)

	if config.DebugEnabled {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.SetRouter(engine, pipeline, admin)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: engine,
	}
	go func() {
		logger.Logger.Info("listening", zap.Int("port", config.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("server shutdown", zap.Error(err))
	}
	registry.Shutdown()
}

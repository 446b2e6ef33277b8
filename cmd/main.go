package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"aura-chat/handler"
	"aura-chat/internal/config"
	"aura-chat/internal/integrations/gemini"
	"aura-chat/internal/integrations/paramstore"
	"aura-chat/internal/realtime"
	"aura-chat/internal/repository"
	"aura-chat/internal/usecase"
)

func main() {
	// Local development convenience; in deployed environments the
	// variables come from the platform and no .env file exists.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded")
	}

	ctx := context.Background()
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Env == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.TableName == "" {
		logger.Error("required environment variable is not set", "key", "CHAT_TABLE")
		os.Exit(1)
	}
	if cfg.ParamPrefix == "" {
		logger.Error("required environment variable is not set", "key", "PARAM_PREFIX")
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		logger.Error("failed to create repository client", "err", err)
		os.Exit(1)
	}

	var geminiOpts []gemini.Option
	if cfg.AssistantModel != "" {
		geminiOpts = append(geminiOpts, gemini.WithModel(cfg.AssistantModel))
	}
	geminiClient, err := gemini.NewClient(ssmClient, cfg.ParamPrefix, geminiOpts...)
	if err != nil {
		logger.Error("failed to create Gemini client", "err", err)
		os.Exit(1)
	}

	feed, err := realtime.New(cfg.AMQPURL, cfg.Exchange, logger)
	if err != nil {
		logger.Error("failed to connect realtime feed", "err", err)
		os.Exit(1)
	}
	defer feed.Close()

	// ---- Reconciliation layer ----
	store := usecase.NewStore()
	engine, err := usecase.NewEngine(store, repo, feed, logger)
	if err != nil {
		logger.Error("failed to create engine", "err", err)
		os.Exit(1)
	}
	index, err := usecase.NewIndex(store, repo, logger)
	if err != nil {
		logger.Error("failed to create conversation index", "err", err)
		os.Exit(1)
	}
	coview, err := usecase.NewCoView(engine, logger)
	if err != nil {
		logger.Error("failed to create co-view controller", "err", err)
		os.Exit(1)
	}
	assistant, err := usecase.NewAssistant(engine, geminiClient, logger)
	if err != nil {
		logger.Error("failed to create assistant", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.New(engine, index, coview, assistant, cfg.AllowedOrigins, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	go h.HandleBroadcast()

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      corsWrapper.Handler(h.SetupRouter()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.ServerPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}

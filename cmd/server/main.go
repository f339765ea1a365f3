package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/example/taskboard/internal/config"
	"github.com/example/taskboard/internal/database"
	"github.com/example/taskboard/internal/repository"
	"github.com/example/taskboard/internal/rest/handlers"
	"github.com/example/taskboard/internal/store"
	"github.com/example/taskboard/pkg/realtime"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := setupLogger(cfg)

	dbCfg := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	listener, err := realtime.New(dbCfg.DSN(), cfg.Realtime.Channel, log, &realtime.Options{
		MinReconnect: cfg.Realtime.MinReconnect,
		MaxReconnect: cfg.Realtime.MaxReconnect,
		PingInterval: cfg.Realtime.PingInterval,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to start realtime listener")
	}
	defer listener.Close()

	taskRepo := repository.NewPostgresTaskRepository(db, listener)
	memberRepo := repository.NewPostgresMemberRepository(db)

	taskStore := store.New(taskRepo, log)
	if err := taskStore.Start(context.Background()); err != nil {
		log.WithError(err).Fatal("failed to start task store")
	}
	defer taskStore.Close()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	handlers.NewTaskHandler(taskStore, log).EnrichRoutes(router)
	handlers.NewMemberHandler(memberRepo, log).EnrichRoutes(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.HTTPPort).Info("taskboard server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	log.Info("server shutdown complete")
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsDevelopment() {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

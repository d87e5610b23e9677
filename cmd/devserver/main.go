package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"glata-console/internal/config"
	"glata-console/internal/devserver"
	"glata-console/internal/storage"
	"glata-console/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	store := newStorage(cfg)
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	srv := devserver.New(cfg, store)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.DevServer.ReadTimeout,
		WriteTimeout: cfg.DevServer.WriteTimeout,
	}

	go func() {
		logger.Infof("devserver listening on port %d", cfg.DevServer.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("devserver: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("devserver shutting down")
	if err := server.Close(); err != nil {
		logger.Errorf("devserver close: %v", err)
	}
}

func newStorage(cfg *config.Config) storage.Storage {
	switch cfg.DevServer.Storage.Type {
	case "disk":
		return storage.NewDiskStorage(cfg.DevServer.Storage.DataDir)
	default:
		return storage.NewMemoryStorage()
	}
}

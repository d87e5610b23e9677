package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"glata-console/internal/api"
	"glata-console/internal/config"
	"glata-console/internal/console"
	"glata-console/internal/session"
	"glata-console/internal/ws"
	"glata-console/pkg/logger"
)

func main() {
	var configPath string
	var chatID string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config file")
	flag.StringVar(&chatID, "chat", "", "chat id to resume instead of starting fresh")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The UI owns the terminal, so logs go to a file.
	logFile, err := logger.InitWithFile(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := ws.NewManager(ws.Config{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		InitialBackoff: cfg.Reconnect.InitialBackoff,
		MaxBackoff:     cfg.Reconnect.MaxBackoff,
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
	})
	conn.Connect(ctx)

	ctrl := session.NewController(session.Config{
		Conn: conn,
		API: api.NewClient(api.Config{
			BaseURL: cfg.API.BaseURL,
			Token:   cfg.API.Token,
			Timeout: cfg.API.Timeout,
		}),
		AgentInstanceID: cfg.Gateway.AgentInstanceID,
		HistoryPageSize: cfg.History.PageSize,
	})
	defer ctrl.Close()
	go ctrl.Run(ctx)

	if chatID != "" {
		if err := ctrl.SwitchChat(ctx, chatID); err != nil {
			logger.Errorf("console: resume chat %s: %v", chatID, err)
		}
	}

	program := tea.NewProgram(
		console.New(ctrl),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
